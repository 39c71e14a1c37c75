package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"classchat-service/internal/auth"
	"classchat-service/internal/mocks"
	"classchat-service/internal/models"
	"classchat-service/internal/repositories"
)

func newGroupRouter(groups *mocks.GroupRepositoryMock, messages *mocks.MessageRepositoryMock, identity *auth.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if identity != nil {
			c.Set("identity", *identity)
		}
		c.Next()
	})

	h := NewGroupHandler(groups, messages, nil, nil)
	router.GET("/groups", h.ListGroups)
	router.GET("/groups/:group_id", h.GetGroup)
	router.GET("/groups/:group_id/messages", h.GetGroupMessages)
	router.GET("/groups/:group_id/messages/:message_id", h.GetGroupMessage)
	router.POST("/groups", h.CreateGroup)
	return router
}

func TestListGroupsReturnsCallersGroups(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	identity := &auth.Identity{UserID: "u1", Role: models.RoleStudent, DisplayName: "Ann"}

	groups.On("ListGroupsForUser", mock.Anything, "u1").Return([]models.Group{
		{ID: "g1", Name: "Algebra Help", OwnerID: "a1"},
	}, nil)

	router := newGroupRouter(groups, messages, identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Groups []models.Group `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Groups, 1)
	assert.Equal(t, "Algebra Help", body.Groups[0].Name)
}

func TestListGroupsWithoutIdentity(t *testing.T) {
	router := newGroupRouter(new(mocks.GroupRepositoryMock), new(mocks.MessageRepositoryMock), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetGroupDetail(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	identity := &auth.Identity{UserID: "s1", Role: models.RoleStudent}

	groups.On("GetGroup", mock.Anything, "g1").Return(models.Group{
		ID: "g1", Name: "Algebra Help", OwnerID: "a1", StudentIDs: []string{"s1"}, InstructorIDs: []string{"i1"},
	}, nil)

	router := newGroupRouter(groups, new(mocks.MessageRepositoryMock), identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups/g1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Group models.Group `json:"group"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Algebra Help", body.Group.Name)
	assert.Equal(t, []string{"s1"}, body.Group.StudentIDs)
}

func TestGetGroupDetailVisibleToOwner(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	identity := &auth.Identity{UserID: "a1", Role: models.RoleAdmin}

	groups.On("GetGroup", mock.Anything, "g1").Return(models.Group{
		ID: "g1", Name: "Algebra Help", OwnerID: "a1",
	}, nil)

	router := newGroupRouter(groups, new(mocks.MessageRepositoryMock), identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups/g1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetGroupDetailForbiddenForOutsiders(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	identity := &auth.Identity{UserID: "x1", Role: models.RoleStudent}

	groups.On("GetGroup", mock.Anything, "g1").Return(models.Group{
		ID: "g1", Name: "Algebra Help", OwnerID: "a1", StudentIDs: []string{"s1"},
	}, nil)

	router := newGroupRouter(groups, new(mocks.MessageRepositoryMock), identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups/g1", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetGroupDetailNotFound(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	identity := &auth.Identity{UserID: "s1", Role: models.RoleStudent}

	groups.On("GetGroup", mock.Anything, "ghost").Return(nil, repositories.ErrGroupNotFound)

	router := newGroupRouter(groups, new(mocks.MessageRepositoryMock), identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups/ghost", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetGroupMessagesOrderedHistory(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	identity := &auth.Identity{UserID: "u1", Role: models.RoleStudent}

	first := "first"
	second := "second"
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	groups.On("IsMember", mock.Anything, "g1", "u1").Return(true, nil)
	messages.On("ListMessages", mock.Anything, "g1").Return([]models.Message{
		{ID: 1, GroupID: "g1", SenderID: "u2", Text: &first, ServerTimestamp: base},
		{ID: 2, GroupID: "g1", SenderID: "u1", Text: &second, ServerTimestamp: base.Add(time.Second)},
	}, nil)

	router := newGroupRouter(groups, messages, identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups/g1/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "first", *body.Messages[0].Text)
	assert.Equal(t, "second", *body.Messages[1].Text)
}

func TestGetGroupMessagesForbiddenForNonMembers(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	identity := &auth.Identity{UserID: "u1", Role: models.RoleStudent}

	groups.On("IsMember", mock.Anything, "g1", "u1").Return(false, nil)

	router := newGroupRouter(groups, messages, identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups/g1/messages", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	messages.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything)
}

func TestGetGroupMessageByID(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	identity := &auth.Identity{UserID: "u1", Role: models.RoleStudent}

	text := "hello"
	groups.On("IsMember", mock.Anything, "g1", "u1").Return(true, nil)
	messages.On("GetMessage", mock.Anything, int64(7)).Return(models.Message{
		ID: 7, GroupID: "g1", SenderID: "u2", Text: &text,
	}, nil)

	router := newGroupRouter(groups, messages, identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups/g1/messages/7", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hello", *body.Message.Text)
}

func TestGetGroupMessageFromOtherGroupReadsAsMissing(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	identity := &auth.Identity{UserID: "u1", Role: models.RoleStudent}

	text := "hello"
	groups.On("IsMember", mock.Anything, "g1", "u1").Return(true, nil)
	messages.On("GetMessage", mock.Anything, int64(7)).Return(models.Message{
		ID: 7, GroupID: "g2", SenderID: "u2", Text: &text,
	}, nil)

	router := newGroupRouter(groups, messages, identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups/g1/messages/7", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetGroupMessageNotFound(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	identity := &auth.Identity{UserID: "u1", Role: models.RoleStudent}

	groups.On("IsMember", mock.Anything, "g1", "u1").Return(true, nil)
	messages.On("GetMessage", mock.Anything, int64(99)).Return(nil, repositories.ErrMessageNotFound)

	router := newGroupRouter(groups, messages, identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups/g1/messages/99", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetGroupMessageRejectsBadID(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	identity := &auth.Identity{UserID: "u1", Role: models.RoleStudent}

	groups.On("IsMember", mock.Anything, "g1", "u1").Return(true, nil)

	router := newGroupRouter(groups, messages, identity)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups/g1/messages/abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	messages.AssertNotCalled(t, "GetMessage", mock.Anything, mock.Anything)
}

func TestCreateGroupHTTP(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	identity := &auth.Identity{UserID: "a1", Role: models.RoleAdmin, DisplayName: "Admin"}

	groups.On("CreateGroup", mock.Anything, mock.AnythingOfType("string"), "Algebra Help", "a1", []string{"s1"}, []string(nil)).
		Return(models.Group{ID: "g-new", Name: "Algebra Help", OwnerID: "a1", StudentIDs: []string{"s1"}}, nil)

	router := newGroupRouter(groups, messages, identity)
	payload, _ := json.Marshal(map[string]any{"name": "Algebra Help", "student_ids": []string{"s1"}})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/groups", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "g-new", body["group_id"])
	groups.AssertExpectations(t)
}

func TestCreateGroupHTTPForbiddenForNonAdmins(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	identity := &auth.Identity{UserID: "u1", Role: models.RoleInstructor}

	router := newGroupRouter(groups, new(mocks.MessageRepositoryMock), identity)
	payload := bytes.NewReader([]byte(`{"name":"Algebra Help"}`))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/groups", payload)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	groups.AssertNotCalled(t, "CreateGroup", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateGroupHTTPConflictOnDuplicateName(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	identity := &auth.Identity{UserID: "a1", Role: models.RoleAdmin}

	groups.On("CreateGroup", mock.Anything, mock.AnythingOfType("string"), "Algebra Help", "a1", []string(nil), []string(nil)).
		Return(nil, repositories.ErrDuplicateGroup)

	router := newGroupRouter(groups, new(mocks.MessageRepositoryMock), identity)
	payload := bytes.NewReader([]byte(`{"name":"Algebra Help"}`))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/groups", payload)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateGroupHTTPRequiresName(t *testing.T) {
	groups := new(mocks.GroupRepositoryMock)
	identity := &auth.Identity{UserID: "a1", Role: models.RoleAdmin}

	router := newGroupRouter(groups, new(mocks.MessageRepositoryMock), identity)
	payload := bytes.NewReader([]byte(`{}`))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/groups", payload)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	groups.AssertNotCalled(t, "CreateGroup", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
