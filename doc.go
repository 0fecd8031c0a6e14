/*
 *
 * Copyright 2026 Tera authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*
# Tera: an ordered, column-family, multi-version structured store

Tables are globally sorted by row key and sharded into tablets. Tablet
servers serve reads and writes out of an LSM engine per locality group; the
master manages schema, placement, splits, merges and garbage collection; the
client sdk routes requests through a cached meta index and batches them per
server.

Layout:

  - client:       the sdk - meta cache, meta scanner, batch engine, cookies
  - master:       tablet lifecycle, placement/rebalance, gc, availability
  - proto:        wire and schema types, meta table row encoding
  - registry:     root tablet location and liveness fencing
  - common:       shared kv store, filesystem env, tablet node transport

The LSM engine, the distributed filesystem and the coordination service are
external; this module consumes them through narrow interfaces.
*/
package tera
