package app

import (
	"errors"
	"net/http"

	"friendserver/internal/repository"
	"friendserver/internal/service"
	"friendserver/internal/util"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes operator commands over HTTP.
type AdminHandler struct {
	friendListRepo    repository.FriendListRepository
	friendshipService service.FriendshipService
}

func NewAdminHandler(friendListRepo repository.FriendListRepository, friendshipService service.FriendshipService) *AdminHandler {
	return &AdminHandler{
		friendListRepo:    friendListRepo,
		friendshipService: friendshipService,
	}
}

type pairRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Friend   string `json:"friend" binding:"required,max=64,nefield=Username"`
}

// CreateUser creates an empty friend list
// POST /api/v1/admin/users
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required,max=64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	if err := h.friendListRepo.Create(c.Request.Context(), req.Username); err != nil {
		util.InternalServerError(c, err.Error())
		return
	}

	util.SuccessResponse(c, http.StatusCreated, "Friend list created", gin.H{"username": req.Username})
}

// AddFriend makes two users friends without a request
// POST /api/v1/admin/friends
func (h *AdminHandler) AddFriend(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	err := h.friendshipService.ForceFriends(c.Request.Context(), req.Username, req.Friend)
	if err != nil {
		if errors.Is(err, service.ErrTargetNotFound) {
			util.NotFound(c, err.Error())
			return
		}
		util.InternalServerError(c, err.Error())
		return
	}

	util.SuccessResponse(c, http.StatusOK, "Friendship added", gin.H{"username": req.Username, "friend": req.Friend})
}

// RemoveFriend clears every relationship between two users
// DELETE /api/v1/admin/friends
func (h *AdminHandler) RemoveFriend(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	if err := h.friendshipService.ForceRemove(c.Request.Context(), req.Username, req.Friend); err != nil {
		util.InternalServerError(c, err.Error())
		return
	}

	util.SuccessResponse(c, http.StatusOK, "Friendship removed", nil)
}

// GetFriendList returns a user's raw record
// GET /api/v1/admin/friends/:username
func (h *AdminHandler) GetFriendList(c *gin.Context) {
	list, err := h.friendListRepo.FindByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			util.NotFound(c, "Friend list not found")
			return
		}
		util.InternalServerError(c, err.Error())
		return
	}

	util.SuccessResponse(c, http.StatusOK, "Friend list retrieved", gin.H{"friend_list": list})
}
