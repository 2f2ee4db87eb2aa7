// Package catalog loads the model catalog from a JSON file and answers
// provider/model lookups, primarily to decide whether a model is
// reasoning-capable. The file can be watched for changes and reloaded
// without restarting the gateway.
package catalog
