//go:build !cgo

package main

import (
	"errors"

	"github.com/dusk-indust/papercast/internal/jobstore"
)

func openKuzuStore(string) (jobstore.Store, error) {
	return nil, errors.New("the kuzu store backend requires a cgo build")
}
