// Package ir defines the data model shared by the sync engine and its
// adapters: identifiers, engine states, entity records and the inbound event
// union.
//
// Both adapters (native engine and cloud database) translate their own
// payloads into these types, so the engine never sees adapter-specific
// structures.
package ir
