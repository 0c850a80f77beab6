package metrics

// Namespace prefixes every exported metric.
const Namespace = "vecroute"
