package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lms/internal/models"
	"lms/internal/repositories"
	"lms/internal/services"
)

// maxCoverBytes bounds cover uploads.
const maxCoverBytes = 5 << 20

type bookRequest struct {
	Title           string     `json:"title" binding:"required"`
	Author          string     `json:"author" binding:"required"`
	ISBN            string     `json:"isbn" binding:"required"`
	Genre           string     `json:"genre" binding:"required"`
	CategoryID      *uuid.UUID `json:"category_id"`
	Publisher       string     `json:"publisher"`
	PublicationDate string     `json:"publication_date"`
	Language        string     `json:"language"`
	Pages           *int       `json:"pages"`
	Description     string     `json:"description"`
	TotalCopies     int        `json:"total_copies" binding:"required,min=1"`
}

func (req bookRequest) input() (services.BookInput, error) {
	in := services.BookInput{
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		Genre:       models.Genre(req.Genre),
		CategoryID:  req.CategoryID,
		Publisher:   req.Publisher,
		Language:    req.Language,
		Pages:       req.Pages,
		Description: req.Description,
		TotalCopies: req.TotalCopies,
	}
	if req.PublicationDate != "" {
		d, err := time.Parse(time.DateOnly, req.PublicationDate)
		if err != nil {
			return in, err
		}
		in.PublicationDate = &d
	}
	return in, nil
}

func (h *LibraryHandler) bindBook(c *gin.Context) (services.BookInput, bool) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return services.BookInput{}, false
	}
	in, err := req.input()
	if err != nil {
		badRequest(c, "publication_date must be YYYY-MM-DD")
		return services.BookInput{}, false
	}
	return in, true
}

func (h *LibraryHandler) createBook(c *gin.Context) {
	in, ok := h.bindBook(c)
	if !ok {
		return
	}
	book, err := h.Catalog.CreateBook(c.Request.Context(), actorFrom(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *LibraryHandler) updateBook(c *gin.Context) {
	bookID, ok := pathID(c, "book")
	if !ok {
		return
	}
	in, ok := h.bindBook(c)
	if !ok {
		return
	}
	book, err := h.Catalog.UpdateBook(c.Request.Context(), actorFrom(c), bookID, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *LibraryHandler) deleteBook(c *gin.Context) {
	bookID, ok := pathID(c, "book")
	if !ok {
		return
	}
	if err := h.Catalog.DeleteBook(c.Request.Context(), actorFrom(c), bookID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LibraryHandler) getBook(c *gin.Context) {
	bookID, ok := pathID(c, "book")
	if !ok {
		return
	}
	book, err := h.Catalog.GetBook(c.Request.Context(), bookID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

// listBooks supports ?available=, ?genre=, ?category= and ?search=.
func (h *LibraryHandler) listBooks(c *gin.Context) {
	available, ok := queryBool(c, "available")
	if !ok {
		return
	}
	categoryID, ok := queryUUID(c, "category")
	if !ok {
		return
	}
	filter := repositories.BookFilter{
		Available:  available,
		Genre:      models.Genre(c.Query("genre")),
		CategoryID: categoryID,
		Search:     c.Query("search"),
	}
	books, err := h.Catalog.ListBooks(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

// uploadCover takes a multipart form with the image in the "cover" field.
func (h *LibraryHandler) uploadCover(c *gin.Context) {
	bookID, ok := pathID(c, "book")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCoverBytes+1<<20)
	fh, err := c.FormFile("cover")
	if err != nil {
		badRequest(c, "cover file is required")
		return
	}
	if fh.Size > maxCoverBytes {
		badRequest(c, "cover file is too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "cover file is unreadable")
		return
	}
	defer f.Close()

	book, err := h.Catalog.SetCover(c.Request.Context(), actorFrom(c), bookID, services.CoverUpload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *LibraryHandler) getCover(c *gin.Context) {
	bookID, ok := pathID(c, "book")
	if !ok {
		return
	}
	url, err := h.Catalog.CoverURL(c.Request.Context(), bookID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

type categoryRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *LibraryHandler) createCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	category, err := h.Catalog.CreateCategory(c.Request.Context(), actorFrom(c), req.Name, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (h *LibraryHandler) listCategories(c *gin.Context) {
	categories, err := h.Catalog.ListCategories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}
