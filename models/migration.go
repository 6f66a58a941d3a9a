package models

import (
	"log"

	"bitbucket.org/craftfocus/console_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Material{},
		&Product{}, &BillOfMaterialsLine{},
		&OrderRequest{}, &ClientOrder{}, &OrderLineItem{},
		&Payment{},
		&LedgerEntry{},
		&History{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
