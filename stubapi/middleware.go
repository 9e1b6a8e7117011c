package stubapi

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// DecompressRequests inflates gzip request bodies before any handler reads
// them. Only identity and gzip are understood; other encodings get 415.
func DecompressRequests() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			gzipped, err := gzipEncoded(req.Header.Values(echo.HeaderContentEncoding))
			if err != nil {
				c.Set(ctxErrorStage, "decode")
				return apiError(http.StatusUnsupportedMediaType, codeUnsupportedEncoding, err.Error())
			}
			if !gzipped {
				return next(c)
			}
			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				c.Set(ctxErrorStage, "decode")
				return apiError(http.StatusBadRequest, codeInvalidBody, "invalid gzip body")
			}
			req.Body = inflatedBody{zr: zr, raw: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

// gzipEncoded reads every Content-Encoding header value.
func gzipEncoded(values []string) (bool, error) {
	gzipped := false
	for _, v := range values {
		for _, enc := range strings.Split(v, ",") {
			switch enc = strings.ToLower(strings.TrimSpace(enc)); enc {
			case "", "identity":
			case "gzip", "x-gzip":
				gzipped = true
			default:
				return false, fmt.Errorf("unsupported content encoding %q", enc)
			}
		}
	}
	return gzipped, nil
}

type inflatedBody struct {
	zr  *gzip.Reader
	raw io.ReadCloser
}

func (b inflatedBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b inflatedBody) Close() error { return errors.Join(b.zr.Close(), b.raw.Close()) }

// RequireOwner resolves the caller and stores the owner on the context.
func RequireOwner(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			owner, err := auth.OwnerFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				c.Set(ctxErrorStage, "auth")
				return apiError(http.StatusUnauthorized, codeUnauthorized, err.Error())
			}
			c.Set(ctxOwner, owner)
			return next(c)
		}
	}
}

func ownerOf(c echo.Context) string {
	owner, _ := c.Get(ctxOwner).(string)
	return owner
}

// sonicSerializer replaces echo's encoding/json serializer.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return apiError(http.StatusBadRequest, codeInvalidBody, "invalid body: "+err.Error())
	}
	return nil
}
