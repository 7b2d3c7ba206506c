package sharded

import (
	"context"
	"encoding/json"
	"fmt"

	"gocloud.dev/blob"
)

// Delete removes a completed sharded file: every shard listed in the
// manifest, then the manifest itself.
func Delete(ctx context.Context, bucket *blob.Bucket, dest string) error {
	manifest, err := readManifest(ctx, bucket, dest)
	if err != nil {
		return err
	}

	for _, shard := range manifest.Shards {
		path := manifest.PartsPrefix + shard.Object
		if err := bucket.Delete(ctx, path); err != nil && !isNotExist(err) {
			return fmt.Errorf("sharded: delete shard %s: %w", path, err)
		}
	}

	if err := bucket.Delete(ctx, manifestPath(dest)); err != nil {
		return fmt.Errorf("sharded: delete manifest: %w", err)
	}

	return nil
}

// DeletePartial removes an interrupted write: the shards recorded in its
// state file and the state file. If no state exists but a manifest does, the
// completed file is deleted instead.
func DeletePartial(ctx context.Context, bucket *blob.Bucket, dest string) error {
	partsPrefix := dest + ".shards/"
	statePath := partsPrefix + "state.json"

	data, err := bucket.ReadAll(ctx, statePath)
	if err != nil {
		if isNotExist(err) {
			if exists, _ := bucket.Exists(ctx, manifestPath(dest)); exists {
				return Delete(ctx, bucket, dest)
			}
			return fmt.Errorf("sharded: no state or manifest found for %s", dest)
		}
		return fmt.Errorf("sharded: read state: %w", err)
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("sharded: unmarshal state: %w", err)
	}

	for _, shard := range s.Shards {
		if shard.Object != "" {
			path := partsPrefix + shard.Object
			if err := bucket.Delete(ctx, path); err != nil && !isNotExist(err) {
				return fmt.Errorf("sharded: delete shard %s: %w", path, err)
			}
		}
	}

	if err := bucket.Delete(ctx, statePath); err != nil && !isNotExist(err) {
		return fmt.Errorf("sharded: delete state: %w", err)
	}

	return nil
}
