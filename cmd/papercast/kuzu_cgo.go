//go:build cgo

package main

import "github.com/dusk-indust/papercast/internal/jobstore"

func openKuzuStore(path string) (jobstore.Store, error) {
	return jobstore.NewKuzuStore(path)
}
