package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/karigari/api/internal/platform/auth"
	"github.com/karigari/api/internal/platform/httpx"
	"github.com/karigari/api/internal/services"
)

const maxAdminBodySize = 256 * 1024

// AdminHandlers exposes the staff surface: user listing and catalog
// administration. Store-wide order management lives on the /orders routes.
type AdminHandlers struct {
	authn   *auth.Authenticator
	users   services.UserService
	catalog services.CatalogService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, users services.UserService, catalog services.CatalogService) *AdminHandlers {
	return &AdminHandlers{
		authn:   authn,
		users:   users,
		catalog: catalog,
	}
}

// Routes registers the /admin endpoints. Login is public; everything else
// requires a staff token.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/login", h.login)

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleSuperAdmin))
		}
		r.Get("/users", h.listUsers)
		r.Get("/products", h.listProducts)
		r.Post("/products", h.createProduct)
		r.Patch("/products/{productID}", h.updateProduct)
		r.Delete("/products/{productID}", h.deleteProduct)
		r.Post("/products/{productID}/images", h.createImageUpload)
	})
}

func (h *AdminHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "authentication service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req loginRequest
	if !decodeJSONBody(ctx, w, r, maxAuthBodySize, &req) {
		return
	}

	session, err := h.users.AdminLogin(ctx, services.LoginCommand{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, adminSessionResponse{
		Token:     session.Token,
		ExpiresAt: formatTime(session.ExpiresAt),
		Admin: adminPayload{
			ID:    session.Admin.ID,
			Name:  session.Admin.Name,
			Email: session.Admin.Email,
			Role:  string(session.Admin.Role),
		},
	})
}

func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.users.ListUsers(ctx, services.UserListQuery{Pagination: pager})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	items := make([]userPayload, 0, len(page.Items))
	for _, user := range page.Items {
		items = append(items, buildUserPayload(user))
	}
	writeJSONResponse(w, http.StatusOK, userListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	page, err := h.catalog.ListProducts(ctx, services.ProductListQuery{
		Category:        query.Get("category"),
		Keyword:         query.Get("keyword"),
		IncludeInactive: true,
		Pagination:      pager,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

type createProductRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Stock       int      `json:"stock"`
	Category    string   `json:"category"`
	Images      []string `json:"images"`
}

type updateProductRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Stock       *int     `json:"stock"`
	Category    *string  `json:"category"`
	Images      []string `json:"images"`
	Active      *bool    `json:"active"`
}

type createImageUploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createProductRequest
	if !decodeJSONBody(ctx, w, r, maxAdminBodySize, &req) {
		return
	}

	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Category:    req.Category,
		Images:      buildProductImages(req.Images),
		ActorID:     actorID(ctx),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req updateProductRequest
	if !decodeJSONBody(ctx, w, r, maxAdminBodySize, &req) {
		return
	}

	cmd := services.UpdateProductCommand{
		ProductID:   productID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Category:    req.Category,
		Active:      req.Active,
		ActorID:     actorID(ctx),
	}
	if req.Images != nil {
		cmd.Images = buildProductImages(req.Images)
	}

	product, err := h.catalog.UpdateProduct(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteProduct(ctx, services.DeleteProductCommand{
		ProductID: productID,
		ActorID:   actorID(ctx),
	}); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) createImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req createImageUploadRequest
	if !decodeJSONBody(ctx, w, r, maxAdminBodySize, &req) {
		return
	}

	upload, err := h.catalog.CreateImageUpload(ctx, services.ProductImageUploadCommand{
		ProductID:   productID,
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: strings.TrimSpace(req.ContentType),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, imageUploadResponse{
		UploadURL:   upload.UploadURL,
		Method:      upload.Method,
		Headers:     upload.Headers,
		StoragePath: upload.StoragePath,
		PublicURL:   upload.PublicURL,
		ExpiresAt:   formatTime(upload.ExpiresAt),
	})
}

func actorID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	return strings.TrimSpace(identity.UserID)
}

func buildProductImages(urls []string) []services.ProductImage {
	images := make([]services.ProductImage, 0, len(urls))
	for _, url := range urls {
		images = append(images, services.ProductImage{URL: strings.TrimSpace(url)})
	}
	return images
}

type adminSessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
	Admin     adminPayload `json:"admin"`
}

type adminPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type userListResponse struct {
	Items         []userPayload `json:"items"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type imageUploadResponse struct {
	UploadURL   string            `json:"upload_url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	StoragePath string            `json:"storage_path"`
	PublicURL   string            `json:"public_url"`
	ExpiresAt   string            `json:"expires_at"`
}
