// Package domain holds the manga task, panel and session entities, their
// status machines and the validation rules for submitted stories.
package domain
