package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Workers     *WorkerHandler
	Configs     *ConfigHandler
	Credentials *CredentialHandler
	Middleware  []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Workers != nil {
		mux.HandleFunc("/workers", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Workers.List(w, r)
		})
		mux.HandleFunc("/workers/", func(w http.ResponseWriter, r *http.Request) {
			userID, action := splitUserAction(strings.TrimPrefix(r.URL.Path, "/workers/"))
			if userID == "" {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithUserID(r.Context(), userID))
			switch action {
			case "start":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Workers.Start(w, r)
			case "stop":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Workers.Stop(w, r)
			case "resume":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Workers.Resume(w, r)
			case "status":
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Workers.Status(w, r)
			case "history":
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Workers.History(w, r)
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Configs != nil || cfg.Credentials != nil {
		mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
			userID, action := splitUserAction(strings.TrimPrefix(r.URL.Path, "/users/"))
			if userID == "" {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithUserID(r.Context(), userID))
			switch {
			case action == "config" && cfg.Configs != nil:
				switch r.Method {
				case http.MethodGet:
					cfg.Configs.Get(w, r)
				case http.MethodPut:
					cfg.Configs.Put(w, r)
				default:
					methodNotAllowed(w, http.MethodGet, http.MethodPut)
				}
			case action == "credential" && cfg.Credentials != nil:
				if r.Method != http.MethodPut {
					methodNotAllowed(w, http.MethodPut)
					return
				}
				cfg.Credentials.Update(w, r)
			default:
				http.NotFound(w, r)
			}
		})
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

// splitUserAction separates "{id}/{action}" path remainders.
func splitUserAction(rest string) (userID, action string) {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	userID = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return userID, action
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
