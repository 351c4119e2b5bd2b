// Package core contains the gateway domain model, store and collaborator
// contracts, configuration, and the error taxonomy. Adapters (auth, stores,
// forwarder, HTTP) depend on this package; core depends on none of them.
package core
