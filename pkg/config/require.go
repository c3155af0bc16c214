package config

import (
	"errors"
	"fmt"
	"log"
	"sort"
)

var ErrMissing = errors.New("missing required env")

// Require reports every key of vals whose value is empty, sorted by key.
func Require(vals map[string]string) error {
	names := make([]string, 0, len(vals))
	for name, v := range vals {
		if v == "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%w %s", ErrMissing, name))
	}
	return errors.Join(errs...)
}

func MustNonEmpty(value, envName string) {
	if err := Require(map[string]string{envName: value}); err != nil {
		log.Fatal(err)
	}
}
