// Package store keeps forwarding statistics in badger.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/rs/zerolog/log"
)

const (
	viewedMessagesPrefix    = "viewedMsgs"
	forwardedMessagesPrefix = "forwardedMsgs"
	copiedMessageIdsPrefix  = "copiedMsgIds"

	DateLayout = "2006-01-02"

	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.7
)

type Store struct {
	db  *badger.DB
	now func() time.Time
	// mu serializes counter increments: the merge operator compacts on Stop.
	mu sync.Mutex
}

type Counters struct {
	Date      string `json:"date"`
	ChatId    int64  `json:"chat_id"`
	Viewed    int64  `json:"viewed"`
	Forwarded int64  `json:"forwarded"`
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, err
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Viewed counts a message seen on the way to dstChatId today.
func (s *Store) Viewed(dstChatId int64) {
	key := counterKey(viewedMessagesPrefix, dstChatId, s.today())
	val := s.increment(key)
	log.Debug().Str("key", string(key)).Uint64("val", val).Msg("Viewed()")
}

// Forwarded counts a message sent to dstChatId today and remembers its copy.
func (s *Store) Forwarded(srcChatId, srcId, dstChatId, dstId int64) {
	key := counterKey(forwardedMessagesPrefix, dstChatId, s.today())
	val := s.increment(key)
	log.Debug().Str("key", string(key)).Uint64("val", val).Msg("Forwarded()")
	if err := s.setCopiedMessageId(srcChatId, srcId, fmt.Sprintf("%d:%d", dstChatId, dstId)); err != nil {
		log.Error().Err(err).Msg("setCopiedMessageId()")
	}
}

// Counters returns the counters of dstChatId for date (YYYY-MM-DD).
func (s *Store) Counters(dstChatId int64, date string) (Counters, error) {
	result := Counters{Date: date, ChatId: dstChatId}
	viewed, err := s.getCounter(counterKey(viewedMessagesPrefix, dstChatId, date))
	if err != nil {
		return result, err
	}
	forwarded, err := s.getCounter(counterKey(forwardedMessagesPrefix, dstChatId, date))
	if err != nil {
		return result, err
	}
	result.Viewed = int64(viewed)
	result.Forwarded = int64(forwarded)
	return result, nil
}

// CountersByDate lists the counters of every destination chat for date.
func (s *Store) CountersByDate(date string) ([]Counters, error) {
	byChat := make(map[int64]*Counters)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for _, prefix := range []string{viewedMessagesPrefix, forwardedMessagesPrefix} {
			p := []byte(prefix + ":")
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				item := it.Item()
				chatId, keyDate, ok := parseCounterKey(item.Key()[len(p):])
				if !ok || keyDate != date {
					continue
				}
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				c, ok := byChat[chatId]
				if !ok {
					c = &Counters{Date: date, ChatId: chatId}
					byChat[chatId] = c
				}
				if prefix == viewedMessagesPrefix {
					c.Viewed = int64(bytesToUint64(val))
				} else {
					c.Forwarded = int64(bytesToUint64(val))
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result := make([]Counters, 0, len(byChat))
	for _, c := range byChat {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ChatId < result[j].ChatId })
	return result, nil
}

// CopiedMessageIds returns "<dstChatId>:<dstId>" of every copy of a source message.
func (s *Store) CopiedMessageIds(srcChatId, srcId int64) ([]string, error) {
	val, err := s.get(copiedKey(srcChatId, srcId))
	if err != nil {
		return nil, err
	}
	return splitIds(val), nil
}

// RunGC runs the value log GC every few minutes until ctx is done.
func (s *Store) RunGC(ctx context.Context) error {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.collectGarbage()
		}
	}
}

func (s *Store) collectGarbage() {
	for {
		if err := s.db.RunValueLogGC(gcDiscardRatio); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				log.Debug().Err(err).Msg("RunValueLogGC()")
			}
			return
		}
	}
}

func (s *Store) today() string {
	return s.now().UTC().Format(DateLayout)
}

func (s *Store) setCopiedMessageId(srcChatId, srcId int64, toChatMessageId string) error {
	key := copiedKey(srcChatId, srcId)
	return s.db.Update(func(txn *badger.Txn) error {
		var val []byte
		item, err := txn.Get(key)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			val, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		}
		ids := distinct(append(splitIds(val), toChatMessageId))
		return txn.Set(key, []byte(strings.Join(ids, ",")))
	})
}

func (s *Store) increment(key []byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	add := func(existing, new []byte) []byte {
		return uint64ToBytes(bytesToUint64(existing) + bytesToUint64(new))
	}
	m := s.db.GetMergeOperator(key, add, 200*time.Millisecond)
	defer m.Stop()
	if err := m.Add(uint64ToBytes(1)); err != nil {
		log.Error().Err(err).Str("key", string(key)).Msg("increment()")
		return 0
	}
	result, err := m.Get()
	if err != nil {
		log.Error().Err(err).Str("key", string(key)).Msg("increment()")
		return 0
	}
	return bytesToUint64(result)
}

func (s *Store) getCounter(key []byte) (uint64, error) {
	val, err := s.get(key)
	if err != nil {
		return 0, err
	}
	if len(val) == 0 {
		return 0, nil
	}
	return bytesToUint64(val), nil
}

// get returns nil for a missing key.
func (s *Store) get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

func counterKey(prefix string, chatId int64, date string) []byte {
	return []byte(fmt.Sprintf("%s:%d:%s", prefix, chatId, date))
}

// parseCounterKey splits "<chatId>:<date>".
func parseCounterKey(rest []byte) (int64, string, bool) {
	chat, date, ok := strings.Cut(string(rest), ":")
	if !ok {
		return 0, "", false
	}
	chatId, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return chatId, date, true
}

func copiedKey(srcChatId, srcId int64) []byte {
	return []byte(fmt.Sprintf("%s:%d:%d", copiedMessageIdsPrefix, srcChatId, srcId))
}

func splitIds(val []byte) []string {
	if len(val) == 0 {
		// strings.Split("", ",") returns [""]
		return []string{}
	}
	return strings.Split(string(val), ",")
}

// distinct keeps the first occurrence of each value.
func distinct(a []string) []string {
	set := make(map[string]struct{}, len(a))
	result := make([]string, 0, len(a))
	for _, val := range a {
		if _, ok := set[val]; ok {
			continue
		}
		set[val] = struct{}{}
		result = append(result, val)
	}
	return result
}

func uint64ToBytes(i uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], i)
	return buf[:]
}

func bytesToUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
