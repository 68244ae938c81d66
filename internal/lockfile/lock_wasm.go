//go:build js && wasm

package lockfile

import "os"

// WASM doesn't support file locking; it is single-process anyway.

func FlockSharedNonBlock(f *os.File) error    { return nil }
func FlockExclusiveNonBlock(f *os.File) error { return nil }
func FlockUnlock(f *os.File) error            { return nil }
