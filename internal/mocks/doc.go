// Package mocks provides shared in-memory implementations of the store,
// generation and progress interfaces for tests.
//
// The stores keep private copies of every entity so tests observe the same
// read-after-write semantics as the Postgres stores: mutating a returned
// value has no effect until it is written back with Update.
//
// Usage:
//
//	tasks := mocks.NewMemoryMangaTaskStore()
//	panels := mocks.NewMemoryPanelStore()
//	uow := mocks.NewMemoryUnitOfWork(tasks, panels, nil)
//
//	splitter := &mocks.MockSceneSplitter{Scenes: []string{"a", "b"}}
//	images := &mocks.MockImageGenerator{}
//	pub := &mocks.RecordingPublisher{}
package mocks
