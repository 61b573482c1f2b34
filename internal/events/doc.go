// Package events carries job requests from the services that create work to
// whatever executes it.
//
// Services emit a TaskRequestEvent through an EventEmitter. In local mode the
// emitter hands the event to the in-process task runner; in distributed mode
// it hands it to the RabbitMQ publisher. Neither side imports the other.
package events
