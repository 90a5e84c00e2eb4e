package accounts

import (
	"context"
	"math"

	"github.com/comerc/tgrelay/forwarder"
	"github.com/rs/zerolog/log"
	"github.com/zelenin/go-tdlib/client"
)

// see https://stackoverflow.com/questions/37782348/how-to-use-getchats-in-tdlib
func (instance *TdInstance) getChatList(ctx context.Context, limit int) ([]*client.Chat, error) {
	var (
		allChats     []*client.Chat
		offsetOrder  = int64(math.MaxInt64)
		offsetChatId = int64(0)
	)
	for len(allChats) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(allChats) > 0 {
			lastChat := allChats[len(allChats)-1]
			for i := 0; i < len(lastChat.Positions); i++ {
				if lastChat.Positions[i].List.ChatListType() == client.TypeChatListMain {
					offsetOrder = int64(lastChat.Positions[i].Order)
				}
			}
			offsetChatId = lastChat.Id
		}
		chats, err := instance.TdlibClient.GetChats(&client.GetChatsRequest{
			ChatList:     &client.ChatListMain{},
			Limit:        int32(limit - len(allChats)),
			OffsetOrder:  client.JsonInt64(offsetOrder),
			OffsetChatId: offsetChatId,
		})
		if err != nil {
			return nil, err
		}
		if len(chats.ChatIds) == 0 {
			return allChats, nil
		}
		for _, chatId := range chats.ChatIds {
			chat, err := instance.TdlibClient.GetChat(&client.GetChatRequest{
				ChatId: chatId,
			})
			if err != nil {
				return nil, err
			}
			allChats = append(allChats, chat)
		}
	}
	return allChats, nil
}

// getChat loads the chat list once when TDLib does not know chatId yet.
func (instance *TdInstance) getChat(ctx context.Context, chatId int64, limit int) (*client.Chat, error) {
	chat, err := instance.TdlibClient.GetChat(&client.GetChatRequest{ChatId: chatId})
	if err == nil {
		return chat, nil
	}
	log.Debug().Err(err).Int64("chat", chatId).Msg("GetChat(), loading chat list")
	if _, err := instance.getChatList(ctx, limit); err != nil {
		return nil, err
	}
	return instance.TdlibClient.GetChat(&client.GetChatRequest{ChatId: chatId})
}

func (instance *TdInstance) getLastMessage(ctx context.Context, chatId int64, limit int) (*forwarder.Message, error) {
	chat, err := instance.getChat(ctx, chatId, limit)
	if err != nil {
		return nil, err
	}
	if chat.LastMessage == nil {
		return nil, forwarder.ErrEmptyChat
	}
	return convertMessage(chat.LastMessage), nil
}

// getMessagesAfter pages the history back from the newest message until it
// reaches minId. Result is newest first.
func (instance *TdInstance) getMessagesAfter(ctx context.Context, chatId, minId int64) ([]*forwarder.Message, error) {
	return messagesAfter(ctx, func(fromMessageId int64) ([]*client.Message, error) {
		history, err := instance.TdlibClient.GetChatHistory(&client.GetChatHistoryRequest{
			ChatId:        chatId,
			FromMessageId: fromMessageId,
			Offset:        0,
			Limit:         historyPageSize,
			OnlyLocal:     false,
		})
		if err != nil {
			return nil, err
		}
		return history.Messages, nil
	}, minId)
}

// historyPage returns messages starting at fromMessageId, newest first.
// fromMessageId 0 means the newest message. TDLib picks the page size, so a
// page may be shorter than asked for.
type historyPage func(fromMessageId int64) ([]*client.Message, error)

func messagesAfter(ctx context.Context, fetch historyPage, minId int64) ([]*forwarder.Message, error) {
	var (
		result        []*forwarder.Message
		fromMessageId int64
		retries       int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		messages, err := fetch(fromMessageId)
		if err != nil {
			return nil, err
		}
		if len(messages) == 0 {
			return result, nil
		}
		page, oldest, done := collectAfter(messages, minId, fromMessageId)
		result = append(result, page...)
		if done {
			return result, nil
		}
		if len(page) == 0 {
			// only the anchor came back, older messages may still be loading
			retries++
			if retries >= historyRetries {
				log.Debug().Int64("from", fromMessageId).Msg("GetChatHistory() returns nothing older")
				return result, nil
			}
			continue
		}
		retries = 0
		fromMessageId = oldest
	}
}

// collectAfter keeps the messages of one history page that are newer than
// minId and older than before (0 means no upper bound). done reports that
// the page reached minId.
func collectAfter(messages []*client.Message, minId, before int64) (page []*forwarder.Message, oldest int64, done bool) {
	for _, message := range messages {
		if message == nil {
			continue
		}
		if message.Id <= minId {
			return page, oldest, true
		}
		if before != 0 && message.Id >= before {
			continue
		}
		page = append(page, convertMessage(message))
		oldest = message.Id
	}
	return page, oldest, false
}

// sendText returns the id TDLib assigns to the pending message; it is
// replaced by the server id once the send succeeds.
func (instance *TdInstance) sendText(ctx context.Context, chatId int64, text string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	message, err := instance.TdlibClient.SendMessage(&client.SendMessageRequest{
		ChatId: chatId,
		InputMessageContent: &client.InputMessageText{
			Text:                  &client.FormattedText{Text: text},
			DisableWebPagePreview: false,
			ClearDraft:            true,
		},
	})
	if err != nil {
		return 0, err
	}
	return message.Id, nil
}

func convertMessage(message *client.Message) *forwarder.Message {
	return &forwarder.Message{
		Id:     message.Id,
		ChatId: message.ChatId,
		Text:   messageText(message.Content),
	}
}

// messageText is the text of a text message or the caption of media.
func messageText(content client.MessageContent) string {
	var formattedText *client.FormattedText
	switch content := content.(type) {
	case *client.MessageText:
		formattedText = content.Text
	case *client.MessagePhoto:
		formattedText = content.Caption
	case *client.MessageAnimation:
		formattedText = content.Caption
	case *client.MessageAudio:
		formattedText = content.Caption
	case *client.MessageDocument:
		formattedText = content.Caption
	case *client.MessageVideo:
		formattedText = content.Caption
	case *client.MessageVoiceNote:
		formattedText = content.Caption
	}
	if formattedText == nil {
		return ""
	}
	return formattedText.Text
}
