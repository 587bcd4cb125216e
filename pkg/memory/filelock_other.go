// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd)

package memory

import "os"

// Without flock only writers inside this process are serialized.
func lockFile(*os.File, bool) error { return nil }

func unlockFile(*os.File) error { return nil }
