package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/guker/portdock/internal/device"
)

// identityRequest is the body for PUT /devices/{key}/identity.
type identityRequest struct {
	FriendlyName string `json:"friendly_name"`
	IconName     string `json:"icon_name"`
}

// connectResponse is the body returned by POST /devices/{key}/connect.
type connectResponse struct {
	Key       string `json:"key"`
	MountPath string `json:"mount_path,omitempty"`
	URL       string `json:"url"`
}

// resolveKey translates the {key} path parameter into a registry row.
// Returns -1 after writing a 404 when the key is unknown.
func (s *Server) resolveKey(w http.ResponseWriter, r *http.Request) int {
	key := chi.URLParam(r, "key")
	row := s.manager.RowForKey(key)
	if row == -1 {
		writeNotFound(w, "no device with key "+key)
	}
	return row
}

// handleListDevices returns every device in registry order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.manager.List(),
	})
}

// handleListConnected returns only devices with an open session.
func (s *Server) handleListConnected(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.manager.ConnectedView().List(),
	})
}

// handleGetDevice returns one device by key.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	row := s.resolveKey(w, r)
	if row == -1 {
		return
	}

	info, err := s.manager.Info(row)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleConnectDevice opens a session for the device.
func (s *Server) handleConnectDevice(w http.ResponseWriter, r *http.Request) {
	row := s.resolveKey(w, r)
	if row == -1 {
		return
	}

	session, err := s.manager.Connect(r.Context(), row)
	if err != nil {
		var unsupported *device.UnsupportedDeviceError
		switch {
		case errors.As(err, &unsupported):
			writeConflict(w, err.Error())
		case errors.Is(err, device.ErrNotPresent):
			writeConflict(w, err.Error())
		case errors.Is(err, device.ErrNotFound):
			writeNotFound(w, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}

	resp := connectResponse{Key: chi.URLParam(r, "key")}
	if u := session.URL(); u != nil {
		resp.URL = u.String()
		resp.MountPath = u.Path
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDisconnectDevice tears down the device's session.
func (s *Server) handleDisconnectDevice(w http.ResponseWriter, r *http.Request) {
	row := s.resolveKey(w, r)
	if row == -1 {
		return
	}

	if err := s.manager.Disconnect(row); err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// handleForgetDevice deletes the device's persisted identity.
func (s *Server) handleForgetDevice(w http.ResponseWriter, r *http.Request) {
	row := s.resolveKey(w, r)
	if row == -1 {
		return
	}

	if err := s.manager.Forget(r.Context(), row); err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "forgotten"})
}

// handleUnmountDevice asks the owning backend to unmount the device.
func (s *Server) handleUnmountDevice(w http.ResponseWriter, r *http.Request) {
	row := s.resolveKey(w, r)
	if row == -1 {
		return
	}

	if err := s.manager.Unmount(row); err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unmounting"})
}

// handleSetIdentity renames the device and updates its icon hint.
func (s *Server) handleSetIdentity(w http.ResponseWriter, r *http.Request) {
	row := s.resolveKey(w, r)
	if row == -1 {
		return
	}

	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.FriendlyName == "" {
		writeBadRequest(w, "friendly_name is required")
		return
	}

	if err := s.manager.SetIdentity(r.Context(), row, req.FriendlyName, req.IconName); err != nil {
		switch {
		case errors.Is(err, device.ErrNotFound):
			writeNotFound(w, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}

	info, err := s.manager.Info(row)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleListTasks returns the in-flight operations snapshot.
func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	if s.tasks == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tasks": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": s.tasks.Tasks(),
	})
}
