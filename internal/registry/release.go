//go:build !ircdebug

package registry

func duplicateKey(string) {}
