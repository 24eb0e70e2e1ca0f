package postgres

import "factload/internal/storage"

func init() {
	// registers the warehouse backend factory
	storage.RegisterWarehouse("postgres", NewWarehouse)
}
