//go:build ircdebug

package registry

import "fmt"

func duplicateKey(key string) {
	panic(fmt.Sprintf("registry: two entities fold to %q", key))
}
