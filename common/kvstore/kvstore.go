// Copyright 2026 The Tera Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

type (
	// CF names a column family.
	CF string

	// Store is the local persistent KV the master keeps its books in.
	Store interface {
		CreateColumn(col CF) error
		CheckColumns(col CF) bool
		GetRaw(ctx context.Context, col CF, key []byte) ([]byte, error)
		SetRaw(ctx context.Context, col CF, key, value []byte) error
		Delete(ctx context.Context, col CF, key []byte) error
		// List walks keys under prefix in order; fn returning false stops.
		List(ctx context.Context, col CF, prefix []byte, fn func(key, value []byte) bool) error
		NewWriteBatch() WriteBatch
		Write(ctx context.Context, batch WriteBatch) error
		Close()
	}

	WriteBatch interface {
		Put(col CF, key, value []byte)
		Delete(col CF, key []byte)
		Count() int
		Close()
	}
)
