package server

import "net/http"

const contentTypeHTML = "text/html; charset=utf-8"

// IndexPageData contains data for rendering the instructions page
type IndexPageData struct {
	AppName  string
	CertURL  string
	LoginURL string
}

// webHandler serves the auxiliary pages: instructions with the certificate
// download and login links, the CA certificate itself, and the success page.
func (s *Session) webHandler(certPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.IndexHandler())
	mux.HandleFunc("GET /ca.crt", s.CertificateHandler(certPath))
	mux.HandleFunc("GET /success", s.SuccessHandler())
	return mux
}

// IndexHandler displays the instructions page (GET /)
func (s *Session) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := IndexPageData{
			AppName:  s.config.GetAppName(),
			CertURL:  "/ca.crt",
			LoginURL: s.LoginURL(),
		}

		w.Header().Set("Content-Type", contentTypeHTML)
		if err := pageTemplates.ExecuteTemplate(w, "index.html", data); err != nil {
			s.log.Err(err).Msg("Failed to render index page")
		}
	}
}

// CertificateHandler serves the CA certificate for installation (GET /ca.crt)
func (s *Session) CertificateHandler(certPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-x509-ca-cert")
		http.ServeFile(w, r, certPath)
	}
}

// SuccessHandler displays the static success page (GET /success)
func (s *Session) SuccessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypeHTML)
		if err := pageTemplates.ExecuteTemplate(w, "success.html", nil); err != nil {
			s.log.Err(err).Msg("Failed to render success page")
		}
	}
}
