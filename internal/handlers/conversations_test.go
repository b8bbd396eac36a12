package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

func setupConversationRouter(handler *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "me")
		c.Set("userName", "Me")
		c.Next()
	})
	r.POST("/conversations", handler.CreateConversation)
	r.GET("/conversations", handler.ListConversations)
	r.GET("/conversations/archived", handler.ListArchivedConversations)
	r.GET("/conversations/:conversation_id", handler.GetConversation)
	r.PATCH("/conversations/:conversation_id/settings", handler.UpdateSettings)
	r.DELETE("/conversations/:conversation_id/me", handler.LeaveConversation)
	r.POST("/conversations/:conversation_id/members", handler.AddMember)
	r.DELETE("/conversations/:conversation_id/members/:user_id", handler.RemoveMember)
	return r
}

func TestCreateConversationSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, t.TempDir())
	router := setupConversationRouter(handler)

	convRepo.On("CreateConversation", mock.Anything, "me", "team", true, []string{"u2", "u3"}).
		Return(models.Conversation{ID: "c1", Name: "team", IsGroup: true, OwnerID: "me"}, nil).Once()

	body := bytes.NewBufferString(`{"name":"team","is_group":true,"member_ids":["u2","u3"]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestCreateDirectConversationNeedsOneMember(t *testing.T) {
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), nil, t.TempDir())
	router := setupConversationRouter(handler)

	body := bytes.NewBufferString(`{"is_group":false,"member_ids":["u2","u3"]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListConversationsSplitsArchived(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, t.TempDir())
	router := setupConversationRouter(handler)

	convRepo.On("ListConversations", mock.Anything, "me", false).
		Return([]models.ConversationSummary{{ConversationID: "c1"}}, nil).Once()
	convRepo.On("ListConversations", mock.Anything, "me", true).
		Return([]models.ConversationSummary{{ConversationID: "c2", Archived: true}}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/archived", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	convRepo.AssertExpectations(t)
}

func TestGetConversationNotFound(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, t.TempDir())
	router := setupConversationRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, "c9", "me").Return(true, nil).Once()
	convRepo.On("GetConversation", mock.Anything, "c9").
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/c9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestUpdateSettingsPartialPatch(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, t.TempDir())
	router := setupConversationRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, "c1", "me").Return(true, nil).Once()
	convRepo.On("UpdateSettings", mock.Anything, "c1", "me",
		mock.MatchedBy(func(muted *bool) bool { return muted != nil && *muted }),
		(*bool)(nil),
		(*bool)(nil),
	).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPatch, "/conversations/c1/settings", bytes.NewBufferString(`{"muted":true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestAddMemberOwnerOnly(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, t.TempDir())
	router := setupConversationRouter(handler)

	convRepo.On("GetConversation", mock.Anything, "c1").
		Return(models.Conversation{ID: "c1", IsGroup: true, OwnerID: "someone-else"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/members", bytes.NewBufferString(`{"user_id":"u9"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestAddMemberRejectsDirectConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, t.TempDir())
	router := setupConversationRouter(handler)

	convRepo.On("GetConversation", mock.Anything, "c1").
		Return(models.Conversation{ID: "c1", IsGroup: false, OwnerID: "me"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/members", bytes.NewBufferString(`{"user_id":"u9"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveMemberSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, t.TempDir())
	router := setupConversationRouter(handler)

	convRepo.On("GetConversation", mock.Anything, "c1").
		Return(models.Conversation{ID: "c1", IsGroup: true, OwnerID: "me"}, nil).Once()
	convRepo.On("RemoveMember", mock.Anything, "c1", "u2").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1/members/u2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestLeaveConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, t.TempDir())
	router := setupConversationRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, "c1", "me").Return(true, nil).Once()
	convRepo.On("RemoveMember", mock.Anything, "c1", "me").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}
