package forwarder

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// fakeClient is an in-memory chat platform. Chats keep their messages in
// ascending id order; reads return them newest first like the real one.
type fakeClient struct {
	mu sync.Mutex

	chats    []Chat
	messages map[int64][]*Message
	nextId   int64

	connects    int
	disconnects int
	connected   bool

	sent       []sentMessage
	fetches    int
	fetchErr   error
	sendErr    map[string]error
	connectErr error

	// fetched receives a value after every GetMessagesAfter call.
	fetched chan struct{}
}

type sentMessage struct {
	ChatId int64
	Text   string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages: make(map[int64][]*Message),
		nextId:   1000,
		sendErr:  make(map[string]error),
		fetched:  make(chan struct{}, 100),
	}
}

func (c *fakeClient) add(chatId, id int64, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[chatId] = append(c.messages[chatId], &Message{Id: id, ChatId: chatId, Text: text})
	sort.Slice(c.messages[chatId], func(i, j int) bool {
		return c.messages[chatId][i].Id < c.messages[chatId][j].Id
	})
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connects++
	c.connected = true
	return nil
}

func (c *fakeClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.connected = false
	return nil
}

func (c *fakeClient) GetChats(ctx context.Context, limit int) ([]Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, errors.New("not connected")
	}
	if len(c.chats) > limit {
		return append([]Chat(nil), c.chats[:limit]...), nil
	}
	return append([]Chat(nil), c.chats...), nil
}

func (c *fakeClient) GetLastMessage(ctx context.Context, chatId int64) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages := c.messages[chatId]
	if len(messages) == 0 {
		return nil, ErrEmptyChat
	}
	return messages[len(messages)-1], nil
}

func (c *fakeClient) GetMessagesAfter(ctx context.Context, chatId, minId int64) ([]*Message, error) {
	defer func() {
		select {
		case c.fetched <- struct{}{}:
		default:
		}
	}()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	var result []*Message
	messages := c.messages[chatId]
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Id > minId {
			result = append(result, messages[i])
		}
	}
	return result, nil
}

func (c *fakeClient) SendText(ctx context.Context, chatId int64, text string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendErr[text]; err != nil {
		return 0, err
	}
	c.nextId++
	c.sent = append(c.sent, sentMessage{ChatId: chatId, Text: text})
	return c.nextId, nil
}

func (c *fakeClient) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var texts []string
	for _, m := range c.sent {
		texts = append(texts, m.Text)
	}
	return texts
}

func (c *fakeClient) setFetchErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErr = err
}

func (c *fakeClient) counts() (connects, disconnects, fetches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.disconnects, c.fetches
}

type fakeRecorder struct {
	mu        sync.Mutex
	viewed    map[int64]int
	forwarded []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{viewed: make(map[int64]int)}
}

func (r *fakeRecorder) Viewed(dstChatId int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewed[dstChatId]++
}

func (r *fakeRecorder) Forwarded(srcChatId, srcId, dstChatId, dstId int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwarded = append(r.forwarded, "ok")
}
