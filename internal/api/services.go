package api

// Service accessors group Client methods by resource.
// Each service embeds *Client so requests share retry and breaker state.

type ConversationsService struct{ *Client }

type MessagesService struct{ *Client }

type CommentsService struct{ *Client }

// Conversations returns the conversations service.
func (c *Client) Conversations() ConversationsService {
	return ConversationsService{c}
}

// Messages returns the messages service.
func (c *Client) Messages() MessagesService {
	return MessagesService{c}
}

// Comments returns the comments service.
func (c *Client) Comments() CommentsService {
	return CommentsService{c}
}
