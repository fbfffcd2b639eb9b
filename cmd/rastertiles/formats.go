package main

import (
	"fmt"
	"strings"

	"github.com/eak1mov/go-rastertiles/store"
	"github.com/eak1mov/go-rastertiles/tilekey"
)

func deduceFormat(format, filePath string) string {
	if format != "" {
		return format
	}
	for _, ext := range []string{".sqlite", ".sqlitedb", ".db"} {
		if strings.HasSuffix(filePath, ext) {
			return "sqlite"
		}
	}
	if strings.HasSuffix(filePath, ".pmtiles") {
		return "pmtiles"
	}
	if strings.Contains(filePath, "{z}") {
		return "dir"
	}
	return format
}

type visitStore interface {
	store.Store
	store.Visitor
}

func openStore(format, filePath string, scheme tilekey.Scheme) (visitStore, error) {
	switch format {
	case "sqlite":
		return store.OpenSQLite(filePath)
	case "pmtiles":
		return store.OpenPMTiles(filePath)
	case "dir":
		return store.NewDir(filePath, scheme)
	}
	return nil, fmt.Errorf("invalid input format: %q", format)
}

func createStore(format, filePath string, scheme tilekey.Scheme, opts ...store.WriterOption) (store.Writer, error) {
	switch format {
	case "sqlite":
		return store.CreateSQLite(filePath, opts...)
	case "pmtiles":
		return store.CreatePMTiles(filePath, opts...)
	case "dir":
		return store.NewDirWriter(filePath, scheme)
	}
	return nil, fmt.Errorf("invalid output format: %q", format)
}
