package migrations

import (
	"rental-payments/internal/records"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		return app.Save(records.NewCollection())
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId(records.Collection)
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
