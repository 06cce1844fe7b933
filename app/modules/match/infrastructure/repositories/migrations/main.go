package matchmigrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()

func init() {
	// Each migration file registers itself with MustRegister; the caller's file
	// name becomes the migration id.
	if err := Migrations.DiscoverCaller(); err != nil {
		panic(err)
	}
}
