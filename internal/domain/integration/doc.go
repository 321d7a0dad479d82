// Package integration contains the marketplace integration bounded context.
// It describes what the sync core consumes from the outside world.
//
// Key concepts:
//   - OrderRecord / OrderItem: raw orders fetched from the marketplace
//   - Credentials: LWA client credentials plus request-signing key material
//   - OrderSource: port implemented by the marketplace client
//   - InvoiceCreator: port implemented by the accounting backend adapter
//   - NotificationSink: port implemented by chat/webhook adapters
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
