package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
)

const titleFetchTimeout = 30 * time.Second

type trackProductRequest struct {
	ProductURL string `json:"product_url"`
}

type productResponse struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ProductURL string    `json:"product_url"`
	CreatedAt  time.Time `json:"created_at"`
}

func toProductResponse(p domain.TrackedProduct) productResponse {
	return productResponse{ID: p.ID, Name: p.Name, ProductURL: p.URL, CreatedAt: p.CreatedAt}
}

func (s *Server) handleTrackProduct(c echo.Context) error {
	var req trackProductRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid request body"})
	}
	if req.ProductURL == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "product_url is required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), titleFetchTimeout)
	defer cancel()

	name, err := s.titles.FetchProductName(ctx, req.ProductURL)
	if err != nil {
		slog.Warn("Failed to fetch product title", "url", req.ProductURL, "error", err)
		name = "Unknown Product"
	}

	product := &domain.TrackedProduct{
		Name:   name,
		URL:    req.ProductURL,
		UserID: currentUserID(c),
	}
	id, err := s.products.Insert(c.Request().Context(), product)
	if err != nil {
		slog.Error("Failed to insert tracked product", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Failed to track product"})
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Product tracked successfully",
		"id":      id,
	})
}

func (s *Server) handleListProducts(c echo.Context) error {
	products, err := s.products.ListByUser(c.Request().Context(), currentUserID(c))
	if err != nil {
		slog.Error("Failed to list products", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Failed to list products"})
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductResponse(p))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetProduct(c echo.Context) error {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid product id"})
	}

	product, err := s.products.GetByID(c.Request().Context(), productID, currentUserID(c))
	if errors.Is(err, domain.ErrProductNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"message": "Product not found"})
	}
	if err != nil {
		slog.Error("Failed to get product", "product_id", productID, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Failed to get product"})
	}

	return c.JSON(http.StatusOK, toProductResponse(*product))
}

func (s *Server) handleDeleteProduct(c echo.Context) error {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid product id"})
	}

	err = s.products.Delete(c.Request().Context(), productID, currentUserID(c))
	if errors.Is(err, domain.ErrProductNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"message": "Product not found"})
	}
	if err != nil {
		slog.Error("Failed to delete product", "product_id", productID, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Failed to delete product"})
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Product deleted successfully"})
}

func (s *Server) handleListPrices(c echo.Context) error {
	productID, err := strconv.ParseInt(c.QueryParam("product_id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid product_id"})
	}

	prices, err := s.products.ListPrices(c.Request().Context(), productID, currentUserID(c))
	if err != nil {
		slog.Error("Failed to list prices", "product_id", productID, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Failed to list prices"})
	}

	if prices == nil {
		prices = []domain.ProductPrice{}
	}
	return c.JSON(http.StatusOK, prices)
}
