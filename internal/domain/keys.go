package domain

// KeyPrefix namespaces every key the service writes to shared stores.
const KeyPrefix = "vecroute:"
