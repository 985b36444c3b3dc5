//go:build !unix

package commands

import "github.com/ehrlich-b/go-devhandler/internal/logging"

func watchStackDumps(*logging.Logger) (stop func()) {
	return func() {}
}
