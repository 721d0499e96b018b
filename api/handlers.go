package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"techgenie/adapters/realtime"
	internalS3 "techgenie/adapters/s3"
	"techgenie/auction"
	"techgenie/models"
)

const (
	claimsKey = "claims"

	maxImageCount = 5
	maxImageSize  = 5 << 20
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 前端和API部署在不同的domain，跨來源檢查交給反向代理處理
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterRoutes 將所有HTTP與WebSocket端點掛載到router上
func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", impl.ServeWS)

	api := router.Group("/api")
	api.GET("/ads", impl.ListAds)
	api.POST("/ads", impl.authRequired, impl.CreateAd)
	api.GET("/ads/:adID", impl.GetAd)
	api.POST("/ads/:adID/bid", impl.authRequired, impl.PlaceBid)
	api.POST("/ads/:adID/close", impl.authRequired, impl.CloseAd)
	api.DELETE("/ads/:adID", impl.authRequired, impl.DeleteAd)
	api.GET("/ads/:adID/events", impl.StreamAdEvents)
	api.GET("/users/:username/ads", impl.ListAdsBySeller)
	api.GET("/users/:username/bids", impl.ListAdsByBidder)
}

// bearerToken 從Authorization header或cookie取出存取憑證
func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := c.Cookie("access_token"); err == nil {
		return cookie
	}
	return ""
}

func (impl *ServerImpl) authRequired(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing access token"})
		return
	}
	claims, err := ParseAndValidateJWT(token, impl.config.Auth.Secret)
	if err != nil {
		slog.Debug("Fail to parse and validate JWT", slog.Any("error", err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access token"})
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

func currentClaims(c *gin.Context) *JWT {
	claims, _ := c.MustGet(claimsKey).(*JWT)
	return claims
}

// replyEngineError 將競標引擎的sentinel error映射到HTTP狀態碼
func (impl *ServerImpl) replyEngineError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, auction.ErrAdNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ad not found"})
	case errors.Is(err, auction.ErrOwnerBid), errors.Is(err, auction.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, auction.ErrAuctionEnded):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, auction.ErrBidTooLow), errors.Is(err, auction.ErrInvalidBid), errors.Is(err, auction.ErrInvalidAd):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("Unexpected engine error", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func parseAdID(c *gin.Context) (uuid.UUID, bool) {
	adID, err := uuid.Parse(c.Param("adID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ad id"})
		return uuid.Nil, false
	}
	return adID, true
}

// List all ads
// (GET /api/ads)
func (impl *ServerImpl) ListAds(c *gin.Context) {
	const op = "ListAds"
	ads, err := impl.engine.ListAds(c.Request.Context())
	if err != nil {
		impl.replyEngineError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, ads)
}

// Get a single ad with its bid history
// (GET /api/ads/{adID})
func (impl *ServerImpl) GetAd(c *gin.Context) {
	const op = "GetAd"
	adID, ok := parseAdID(c)
	if !ok {
		return
	}
	ad, err := impl.engine.GetAd(c.Request.Context(), adID)
	if err != nil {
		impl.replyEngineError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, ad)
}

// Create a new ad with optional images
// (POST /api/ads)
func (impl *ServerImpl) CreateAd(c *gin.Context) {
	const op = "CreateAd"
	claims := currentClaims(c)

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	files := form.File["images"]
	if len(files) > maxImageCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d images are allowed", maxImageCount)})
		return
	}

	// 檢查是否達到上傳限制
	if impl.config.S3.RateLimitPerHour > 0 && len(files) > 0 {
		var uploadedCount int64
		if result := impl.db.Model(&models.Image{}).
			Where("uploaded_by = ? AND created_at > ?", claims.Username, time.Now().Add(-1*time.Hour)).
			Count(&uploadedCount); result.Error != nil {
			slog.Error("Fail to count uploaded images", slog.String("op", op), slog.Any("error", result.Error))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if uploadedCount+int64(len(files)) > impl.config.S3.RateLimitPerHour {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "image upload limit reached"})
			return
		}
	}

	price, err := strconv.ParseInt(c.PostForm("price"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}

	// 上傳圖片並記錄上傳紀錄
	imageURLs := make([]string, 0, len(files))
	for _, fileHeader := range files {
		url, uploadErr := impl.uploadImage(c, claims.Username, fileHeader)
		if uploadErr != nil {
			var badImage *badImageError
			if errors.As(uploadErr, &badImage) {
				c.JSON(http.StatusBadRequest, gin.H{"error": badImage.Error()})
				return
			}
			slog.Error("Fail to upload image", slog.String("op", op), slog.Any("error", uploadErr))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		imageURLs = append(imageURLs, url)
	}

	ad := models.Ad{
		DeviceType:  c.PostForm("deviceType"),
		Subcategory: c.PostForm("subcategory"),
		Brand:       c.PostForm("brand"),
		Title:       c.PostForm("title"),
		Condition:   c.PostForm("condition"),
		Mobile:      c.PostForm("mobile"),
		Description: impl.htmlChecker.Sanitize(c.PostForm("description")),
		Price:       price,
		Duration:    models.Duration(c.PostForm("duration")),
		CreatedBy:   claims.Username,
		Images:      imageURLs,
	}
	created, err := impl.engine.CreateAd(c.Request.Context(), &ad)
	if err != nil {
		impl.replyEngineError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

type badImageError struct {
	reason string
}

func (e *badImageError) Error() string {
	return e.reason
}

// uploadImage 檢查單張圖片的大小和MIME類型後上傳到S3
func (impl *ServerImpl) uploadImage(c *gin.Context, username string, fileHeader *multipart.FileHeader) (string, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("fail to open uploaded file, err=%w", err)
	}
	defer file.Close()

	// 限制圖片
	// 	1. 小於5MB
	// 	2. MIME類型為不包含腳本的圖片檔案
	body := internalS3.NewMaxSizeReader(file, maxImageSize)
	content, err := io.ReadAll(body)
	if errors.As(err, &internalS3.ErrReachLimitType) {
		return "", &badImageError{reason: err.Error()}
	}
	if err != nil {
		return "", fmt.Errorf("fail to read uploaded file, err=%w", err)
	}
	mimeType := http.DetectContentType(content)
	secure, ext := internalS3.CheckSecureImageAndGetExtension(mimeType)
	if !secure {
		return "", &badImageError{reason: fmt.Sprintf("invalid image type: %s", mimeType)}
	}

	// 透過S3 API儲存圖片
	key := fmt.Sprintf("images/%s/%s.%s", username, uuid.NewString(), ext)
	url, err := impl.s3Operator.Upload(c.Request.Context(), key, mimeType, content)
	if err != nil {
		return "", fmt.Errorf("fail to upload image, err=%w", err)
	}
	// 在DB紀錄圖片的上傳紀錄
	image := models.Image{
		Key:        key,
		Url:        url,
		UploadedBy: username,
	}
	if result := impl.db.WithContext(c.Request.Context()).Create(&image); result.Error != nil {
		return "", fmt.Errorf("fail to create image record, err=%w", result.Error)
	}
	return url, nil
}

// Place a bid on an ad
// (POST /api/ads/{adID}/bid)
func (impl *ServerImpl) PlaceBid(c *gin.Context) {
	const op = "PlaceBid"
	adID, ok := parseAdID(c)
	if !ok {
		return
	}
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	claims := currentClaims(c)
	ad, err := impl.engine.PlaceBid(c.Request.Context(), adID, claims.Username, body.Amount)
	if err != nil {
		impl.replyEngineError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, ad)
}

// Close an ad before its end time
// (POST /api/ads/{adID}/close)
func (impl *ServerImpl) CloseAd(c *gin.Context) {
	const op = "CloseAd"
	adID, ok := parseAdID(c)
	if !ok {
		return
	}
	claims := currentClaims(c)
	ad, err := impl.engine.CloseAd(c.Request.Context(), adID, claims.Username)
	if err != nil {
		impl.replyEngineError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "ad": ad})
}

// Delete an ad and schedule its images for cleanup
// (DELETE /api/ads/{adID})
func (impl *ServerImpl) DeleteAd(c *gin.Context) {
	const op = "DeleteAd"
	adID, ok := parseAdID(c)
	if !ok {
		return
	}
	claims := currentClaims(c)
	if err := impl.engine.DeleteAd(c.Request.Context(), adID, claims.Username); err != nil {
		impl.replyEngineError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// List ads published by a user
// (GET /api/users/{username}/ads)
func (impl *ServerImpl) ListAdsBySeller(c *gin.Context) {
	const op = "ListAdsBySeller"
	ads, err := impl.engine.ListAdsBySeller(c.Request.Context(), c.Param("username"))
	if err != nil {
		impl.replyEngineError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, ads)
}

// List ads a user has bid on
// (GET /api/users/{username}/bids)
func (impl *ServerImpl) ListAdsByBidder(c *gin.Context) {
	const op = "ListAdsByBidder"
	ads, err := impl.engine.ListAdsByBidder(c.Request.Context(), c.Param("username"))
	if err != nil {
		impl.replyEngineError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, ads)
}

// Track ad events over SSE
// (GET /api/ads/{adID}/events)
func (impl *ServerImpl) StreamAdEvents(c *gin.Context) {
	const op = "StreamAdEvents"
	adID, ok := parseAdID(c)
	if !ok {
		return
	}
	// 檢查刊登是否存在
	if _, err := impl.engine.GetAd(c.Request.Context(), adID); err != nil {
		impl.replyEngineError(c, op, err)
		return
	}
	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
	room := AdRoom(adID)
	ch, err := impl.hub.Subscribe(room)
	if err != nil {
		slog.Error("Fail to subscribe to ad events", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
LOOP:
	for {
		select {
		case <-w.CloseNotify():
			impl.hub.Unsubscribe(room, ch)
			break LOOP
		case frame := <-ch:
			c.SSEvent(frame.Event, frame.Data)
			w.Flush()
		// 30秒沒有事件就發送一個空行，確保瀏覽器和Cloudflare不會斷開連線
		case <-time.After(30 * time.Second):
			w.WriteString("\n\n")
			w.Flush()
		}
	}
}

// Establish a realtime WebSocket session
// (GET /ws)
func (impl *ServerImpl) ServeWS(c *gin.Context) {
	const op = "ServeWS"

	// 憑證是可選的，匿名連線只能收到公開房間的事件
	identity := realtime.Identity{}
	token := bearerToken(c)
	if token == "" {
		token = c.Query("token")
	}
	if token != "" {
		claims, err := ParseAndValidateJWT(token, impl.config.Auth.Secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid access token"})
			return
		}
		identity = realtime.Identity{UserID: claims.Subject, Name: claims.Username}
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Debug("Fail to upgrade connection", slog.String("op", op), slog.Any("error", err))
		return
	}

	autoJoin := []string{BroadcastRoom}
	if !identity.Anonymous() {
		autoJoin = append(autoJoin, UserRoom(identity.UserID), IdentityRoom(identity.Name))
	}
	session, err := realtime.NewSession(
		conn,
		impl.hub,
		realtime.WithSessionLogger[Frame](slog.Default()),
		realtime.WithSessionIdentity[Frame](identity),
		realtime.WithSessionAutoJoin[Frame](autoJoin...),
		realtime.WithSessionInboundHandler[Frame](impl.relayChat),
	)
	if err != nil {
		slog.Error("Fail to create session", slog.String("op", op), slog.Any("error", err))
		_ = conn.Close()
		return
	}
	session.Serve()
}

// relayChat 轉發刊登詢問的聊天訊息給同房間的其他連線，伺服器不儲存內容
func (impl *ServerImpl) relayChat(session *realtime.Session[Frame], message realtime.ClientMessage) {
	if message.Action != EventAdChat || message.Room == "" {
		return
	}
	var payload ChatPayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return
	}
	// 寄件人以連線的身份為準，不信任客戶端填的值
	payload.From = session.Identity().Name
	frame, err := newFrame(EventAdChat, payload)
	if err != nil {
		return
	}
	if err := impl.hub.Publish(message.Room, frame); err != nil {
		slog.Debug("Fail to relay chat message", slog.Any("error", err))
	}
}
