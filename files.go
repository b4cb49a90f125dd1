package auth

import (
	"embed"
)

//go:embed data/fixtures
var fixturesFS embed.FS

//go:embed data/sql/migrations
var migrationsFS embed.FS

//go:embed data/sql/seeds
var seedsFS embed.FS

// DefaultFixturesPath is the bundled fixture file inside GetFixturesFS
const DefaultFixturesPath = "data/fixtures/auth.yaml"

// GetFixturesFS returns the fixture files for this package
func GetFixturesFS() embed.FS {
	return fixturesFS
}

// GetMigrationsFS returns the migration files for this package, one
// directory per dialect under data/sql/migrations
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// GetSeedsFS returns the default role catalog under data/sql/seeds
func GetSeedsFS() embed.FS {
	return seedsFS
}
