package health

import (
	"net/http"

	"github.com/go-chi/render"
)

// Text — ответ проверки работоспособности.
const Text = "Бот работает!"

type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	render.PlainText(w, r, Text)
}
