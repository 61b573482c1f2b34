// Package store declares the persistence contracts for tasks, panels and
// sessions, along with the transaction helpers the generation pipeline uses
// to apply several writes atomically.
package store
