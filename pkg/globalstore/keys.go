package globalstore

import "fmt"

// Key layout for the global catalog. Every composite list (shards-for-map,
// mappings-for-map, mappings-for-shard, pending-log) is maintained as an
// explicit JSON-array index key alongside the primary records, since
// concurrency.STM only supports point Get/Put within a transaction, not
// prefix scans.
func shardMapNameKey(normalizedName string) string { return "/shardmap/byname/" + normalizedName }
func shardMapKey(id string) string                 { return "/shardmap/byid/" + id }
func shardKey(id string) string                    { return "/shard/byid/" + id }
func mappingKey(shardMapID, id string) string {
	return fmt.Sprintf("/mapping/%s/%s", shardMapID, id)
}
func pendingLogKey(operationID string) string { return "/pendinglog/byid/" + operationID }

func shardsForMapIndexKey(shardMapID string) string { return "/index/shardmap/" + shardMapID + "/shards" }
func mappingsForMapIndexKey(shardMapID string) string {
	return "/index/shardmap/" + shardMapID + "/mappings"
}
func mappingsForShardIndexKey(shardID string) string { return "/index/shard/" + shardID + "/mappings" }
func shardMapListIndexKey() string                   { return "/index/shardmaps" }
func pendingLogListIndexKey() string                 { return "/index/pendinglog" }

const schemaVersionKey = "/meta/schemaversion"

const currentSchemaVersion = 1
