package xsynth

import "github.com/jward/xsynth/internal/store"

// Public type aliases for the internal store types returned by Engine.Store.

type Store = store.Store
type Record = store.Record
type SymbolRecord = store.SymbolRecord
type Run = store.Run
