// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tbl

import (
	"sync"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

// Largest object a MemService holds. Writes and seeks past it fail with
// ErrInvalidInput.
const maxMemObject = 1 << 30

// MemService is a Handler keeping objects in memory, named by the string
// form of their selector. Use it with Serve to run a service table.
type MemService struct {
	lock   sync.Mutex
	byName map[string]core.ID
	data   map[core.ID][]byte
	next   core.ID

	// Objects opened or created and not closed since.
	open map[core.ID]bool
}

// NewMemService returns an empty MemService.
func NewMemService() *MemService {
	return &MemService{
		byName: make(map[string]core.ID),
		data:   make(map[core.ID][]byte),
		next:   1,
		open:   make(map[core.ID]bool),
	}
}

// Open returns how many objects are open.
func (s *MemService) Open() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.open)
}

// Handle answers one job. It has the signature of a Handler.
func (s *MemService) Handle(j *core.Job) {
	s.lock.Lock()
	defer s.lock.Unlock()

	log.V(2).Infof("mem service: job %d %s object %d", j.JobID, j.Type, j.ObjectID)
	switch j.Type {
	case core.JobOpen:
		if j.Data != nil {
			id, ok := s.byName[string(j.Data)]
			if !ok {
				j.Result = core.ErrNotFound.Result()
				return
			}
			j.ObjectID = id
		} else if _, ok := s.data[j.ObjectID]; !ok {
			j.Result = core.ErrNotFound.Result()
			return
		}
		s.open[j.ObjectID] = true

	case core.JobCreate:
		name := string(j.Data)
		if _, ok := s.byName[name]; ok {
			j.Result = core.ErrAlreadyExists.Result()
			return
		}
		j.ObjectID = s.next
		s.next++
		s.byName[name] = j.ObjectID
		s.data[j.ObjectID] = nil
		s.open[j.ObjectID] = true

	case core.JobRead:
		data := s.data[j.ObjectID]
		if j.Offset >= int64(len(data)) {
			j.Data = nil
			return
		}
		end := j.Offset + int64(j.Count)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		j.Data = append([]byte(nil), data[j.Offset:end]...)
		j.Result = int64(len(j.Data))

	case core.JobWrite:
		if j.Offset < 0 || j.Offset > maxMemObject-int64(len(j.Data)) {
			j.Result = core.ErrInvalidInput.Result()
			return
		}
		data := s.data[j.ObjectID]
		if end := j.Offset + int64(len(j.Data)); end > int64(len(data)) {
			data = append(data, make([]byte, end-int64(len(data)))...)
		}
		copy(data[j.Offset:], j.Data)
		s.data[j.ObjectID] = data
		j.Result = int64(len(j.Data))

	case core.JobSeek:
		off := j.Offset
		if j.Whence == core.SeekEnd {
			off += int64(len(s.data[j.ObjectID]))
		}
		if off < 0 || off > maxMemObject {
			j.Result = core.ErrInvalidInput.Result()
			return
		}
		j.Result = off

	case core.JobClose:
		delete(s.open, j.ObjectID)

	default:
		j.Result = core.ErrUnsupported.Result()
	}
}
