// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tbl

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

type cachedTable struct {
	id   core.TableID
	info core.TableInfo
}

// tableCache remembers table name resolutions. A nil *tableCache caches
// nothing, so callers don't need to check whether caching is enabled.
type tableCache struct {
	lock  sync.Mutex
	names *lru.Cache

	// Reverse map so a stale id can be dropped without knowing its name.
	ids map[core.TableID]string
}

func newTableCache(maxEntries int) *tableCache {
	if maxEntries == 0 {
		return nil
	}
	tc := &tableCache{ids: make(map[core.TableID]string)}
	tc.names = lru.New(maxEntries)
	tc.names.OnEvicted = tc.evicted
	return tc
}

// evicted keeps 'ids' in sync with the lru. It runs while the lru is being
// modified, so the lock is already held.
func (tc *tableCache) evicted(key lru.Key, value interface{}) {
	delete(tc.ids, value.(cachedTable).id)
}

// get returns the cached resolution of 'name'.
func (tc *tableCache) get(name string) (core.TableID, core.TableInfo, bool) {
	if tc == nil {
		return 0, core.TableInfo{}, false
	}
	tc.lock.Lock()
	defer tc.lock.Unlock()
	if v, ok := tc.names.Get(name); ok {
		ct := v.(cachedTable)
		return ct.id, ct.info, true
	}
	return 0, core.TableInfo{}, false
}

// put caches that 'name' resolved to 'id'.
func (tc *tableCache) put(name string, id core.TableID, info core.TableInfo) {
	if tc == nil {
		return
	}
	tc.lock.Lock()
	defer tc.lock.Unlock()

	// Remove first so the reverse map is updated by evicted.
	tc.names.Remove(name)
	tc.names.Add(name, cachedTable{id: id, info: info})
	tc.ids[id] = name
}

// invalidate drops the resolution of 'name'.
func (tc *tableCache) invalidate(name string) {
	if tc == nil {
		return
	}
	tc.lock.Lock()
	defer tc.lock.Unlock()
	tc.names.Remove(name)
}

// invalidateID drops whatever name resolved to 'id'. Returns whether there
// was one.
func (tc *tableCache) invalidateID(id core.TableID) bool {
	if tc == nil {
		return false
	}
	tc.lock.Lock()
	defer tc.lock.Unlock()
	name, ok := tc.ids[id]
	if ok {
		tc.names.Remove(name)
	}
	return ok
}

// len returns the number of cached resolutions.
func (tc *tableCache) len() int {
	if tc == nil {
		return 0
	}
	tc.lock.Lock()
	defer tc.lock.Unlock()
	return tc.names.Len()
}
