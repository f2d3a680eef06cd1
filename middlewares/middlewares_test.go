package middlewares

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSessionMiddlewareSetsActorAndCorrelationId(t *testing.T) {
	tests := []struct {
		name      string
		actor     string
		cid       string
		wantActor string
	}{
		{name: "with headers", actor: "store-keeper", cid: "cid-1", wantActor: "store-keeper"},
		{name: "without headers", wantActor: utils.SystemActor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(SessionMiddleware())
			var gotActor, gotCid string
			r.GET("/", func(c *gin.Context) {
				gotActor = utils.ActorOrSystem(c.Request.Context())
				gotCid, _ = utils.GetCorrelationIdFromContext(c.Request.Context())
				c.Status(http.StatusNoContent)
			})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.actor != "" {
				req.Header.Set(HeaderActor, tt.actor)
			}
			if tt.cid != "" {
				req.Header.Set(HeaderCorrelationId, tt.cid)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if gotActor != tt.wantActor {
				t.Fatalf("actor = %q, want %q", gotActor, tt.wantActor)
			}
			if tt.cid != "" && gotCid != tt.cid {
				t.Fatalf("correlation id = %q, want %q", gotCid, tt.cid)
			}
			if gotCid == "" {
				t.Fatalf("correlation id was not generated")
			}
			if w.Header().Get(HeaderCorrelationId) != gotCid {
				t.Fatalf("response header = %q, want %q", w.Header().Get(HeaderCorrelationId), gotCid)
			}
		})
	}
}

func TestOpsRateLimiterRejectsAfterBurst(t *testing.T) {
	rl := NewOpsRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	r := gin.New()
	r.Use(SessionMiddleware())
	r.POST("/ops", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	call := func(actor string) int {
		req := httptest.NewRequest(http.MethodPost, "/ops", nil)
		req.Header.Set(HeaderActor, actor)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	for i := 0; i < 2; i++ {
		if code := call("ops-a"); code != http.StatusNoContent {
			t.Fatalf("call %d = %d, want 204", i, code)
		}
	}
	if code := call("ops-a"); code != http.StatusTooManyRequests {
		t.Fatalf("third call = %d, want 429", code)
	}
	if code := call("ops-b"); code != http.StatusNoContent {
		t.Fatalf("other actor = %d, want 204", code)
	}
}

func TestMaterialLoaderBatchesAndDefaultsMissing(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	wrap, err := models.CreateMaterial(db, &models.NewMaterial{Name: "Bubble wrap", Unit: "roll", OnHandQty: decimal.NewFromInt(4)})
	if err != nil {
		t.Fatalf("create material: %v", err)
	}

	ctx := WithLoaders(context.Background(), db)
	got, errs := GetMaterials(ctx, []int{wrap.ID, wrap.ID + 100})
	for _, e := range errs {
		if e != nil {
			t.Fatalf("load: %v", e)
		}
	}
	if len(got) != 2 {
		t.Fatalf("got %d materials, want 2", len(got))
	}
	if got[0].Name != "Bubble wrap" {
		t.Fatalf("first name = %q", got[0].Name)
	}
	if got[1].ID != wrap.ID+100 || got[1].Active() {
		t.Fatalf("missing material default = %+v", got[1])
	}

	one, err := GetMaterial(ctx, wrap.ID)
	if err != nil || one.Unit != "roll" {
		t.Fatalf("GetMaterial = %+v, %v", one, err)
	}
}
