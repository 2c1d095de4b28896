package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
)

func main() {
	// Lade Umgebungsvariablen aus .env-Datei
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	user := env.GetEnv("DB_USER", "coinfox")
	host := env.GetEnv("DB_HOST", "db")
	port := env.GetEnv("DB_PORT", "3306")
	name := env.GetEnv("DB_NAME", "coinfox_db")
	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		user, env.GetEnv("DB_PASSWORD", "coinfox"), host, port, name)

	log.Printf("Verbinde mit Datenbank: %s@%s:%s/%s", user, host, port, name)

	m, err := migrate.New("file://"+env.GetEnv("MIGRATIONS_PATH", "migrations"), dbURL)
	if err != nil {
		log.Fatalf("Fehler beim Initialisieren der Migration: %v", err)
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("Fehler beim Schließen der Migrationsressourcen: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		report(m.Up(), "Migrationen erfolgreich ausgeführt")

	case "down":
		report(m.Steps(-1), "Letzte Migration erfolgreich zurückgerollt")

	case "goto":
		version := versionArg()
		report(m.Migrate(version), fmt.Sprintf("Migration zur Version %d erfolgreich", version))

	case "force":
		// Nur nach manuell reparierter, fehlgeschlagener Migration verwenden
		version := versionArg()
		if err := m.Force(int(version)); err != nil {
			log.Fatalf("Fehler beim Setzen der Version %d: %v", version, err)
		}
		log.Printf("Version auf %d gesetzt, dirty-Flag entfernt", version)

	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			log.Println("Keine Migrationen wurden bisher ausgeführt")
		case err != nil:
			log.Fatalf("Fehler beim Abrufen der Migrationsversion: %v", err)
		default:
			dirtyStatus := ""
			if dirty {
				dirtyStatus = " (dirty)"
			}
			log.Printf("Aktuelle Migrationsversion: %d%s", version, dirtyStatus)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func report(err error, success string) {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("Keine Änderungen: Datenbank ist bereits auf dem neuesten Stand")
	case err != nil:
		log.Fatalf("Migration fehlgeschlagen: %v", err)
	default:
		log.Println(success)
	}
}

func versionArg() uint {
	if len(os.Args) < 3 {
		log.Fatalf("Bitte geben Sie eine Versionsnummer an")
	}
	version, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		log.Fatalf("Ungültige Versionsnummer: %v", err)
	}
	return uint(version)
}

func printUsage() {
	fmt.Println("Verwendung: go run cmd/migrate/main.go [command]")
	fmt.Println("Verfügbare Befehle:")
	fmt.Println("  up      - Führe alle ausstehenden Migrationen aus")
	fmt.Println("  down    - Rolle die letzte Migration zurück")
	fmt.Println("  goto N  - Migriere zur Version N")
	fmt.Println("  force N - Setze Version N nach einer fehlgeschlagenen Migration")
	fmt.Println("  status  - Zeige aktuelle Migrationsversion an")
}
