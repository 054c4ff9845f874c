package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boneguide-go/internal/guide"
)

func newTestServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ListHospitals(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"GET /hospitals": `{"data":[{"id":1,"name":"St. Olav","maintenanceMode":false,"maintenanceDate":null},
			{"id":2,"name":"Haukeland","maintenanceMode":true,"maintenanceDate":"2024-02-01"}]}`,
	})
	c := NewClient(nil, srv.URL+"/", 5*time.Second)

	got, err := c.ListHospitals(context.Background())
	if err != nil {
		t.Fatalf("ListHospitals() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListHospitals() returned %d hospitals, want 2", len(got))
	}
	if !got[1].MaintenanceMode || got[1].MaintenanceDate == nil || *got[1].MaintenanceDate != "2024-02-01" {
		t.Errorf("ListHospitals()[1] = %+v, want maintenance fields decoded", got[1])
	}
	if got[0].MaintenanceDate != nil {
		t.Errorf("ListHospitals()[0].MaintenanceDate = %v, want nil", *got[0].MaintenanceDate)
	}
}

func TestClient_GetCurrentVersion(t *testing.T) {
	t.Run("success envelope", func(t *testing.T) {
		srv := newTestServer(t, map[string]string{
			"GET /flow/version/5": `{"messageType":"success","data":{"currentVersion":{"id":31,"name":"3"}}}`,
		})
		c := NewClient(nil, srv.URL, 5*time.Second)

		v, err := c.GetCurrentVersion(context.Background(), 5)
		if err != nil {
			t.Fatalf("GetCurrentVersion() error = %v", err)
		}
		if v.ID != 31 || v.Name != "3" {
			t.Errorf("GetCurrentVersion() = %+v, want {31 3}", v)
		}
	})

	t.Run("non-success envelope is a network error", func(t *testing.T) {
		srv := newTestServer(t, map[string]string{
			"GET /flow/version/5": `{"messageType":"error","message":"no published version"}`,
		})
		c := NewClient(nil, srv.URL, 5*time.Second)

		_, err := c.GetCurrentVersion(context.Background(), 5)
		if !errors.Is(err, guide.ErrNetwork) {
			t.Errorf("GetCurrentVersion() error = %v, want ErrNetwork", err)
		}
	})

	t.Run("missing version is a parse error", func(t *testing.T) {
		srv := newTestServer(t, map[string]string{
			"GET /flow/version/5": `{"messageType":"success","data":{}}`,
		})
		c := NewClient(nil, srv.URL, 5*time.Second)

		_, err := c.GetCurrentVersion(context.Background(), 5)
		if !errors.Is(err, guide.ErrParse) {
			t.Errorf("GetCurrentVersion() error = %v, want ErrParse", err)
		}
	})

	t.Run("server error is a network error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		c := NewClient(nil, srv.URL, 5*time.Second)

		_, err := c.GetCurrentVersion(context.Background(), 5)
		if !errors.Is(err, guide.ErrNetwork) {
			t.Errorf("GetCurrentVersion() error = %v, want ErrNetwork", err)
		}
	})
}

func TestClient_GetHospitalTree(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"GET /hospitals/all/1": `{
			"hospital": {"id": 1, "name": "St. Olav", "maintenanceMode": false},
			"projects": [
				{"id": 100, "name": "v3", "isPublished": true, "nodes": [
					{"id": 1, "title": "Upper limb", "childNodes": [
						{"id": 10, "title": "Forearm", "parentNodeId": 1,
						 "breadcrumb": [{"id": 1, "title": "Upper limb"}],
						 "childNodes": [
							{"id": 100, "title": "Distal radius", "content": "{\"type\":\"doc\"}", "image": null,
							 "breadcrumb": [{"id": 1, "title": "Upper limb"}, {"id": 10, "title": "Forearm"}],
							 "childNodes": []}
						 ]}
					]}
				]},
				{"id": 99, "name": "v2", "isPublished": false, "nodes": []}
			]
		}`,
	})
	c := NewClient(nil, srv.URL, 5*time.Second)

	tree, err := c.GetHospitalTree(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetHospitalTree() error = %v", err)
	}
	if tree.Hospital.Name != "St. Olav" {
		t.Errorf("Hospital.Name = %q, want St. Olav", tree.Hospital.Name)
	}
	published := tree.PublishedProjects()
	if len(published) != 1 || published[0].Name != "v3" {
		t.Fatalf("PublishedProjects() = %+v, want only v3", published)
	}
	leaf := published[0].Nodes[0].ChildNodes[0].ChildNodes[0]
	if leaf.Content != `{"type":"doc"}` || leaf.Image != nil || len(leaf.Breadcrumb) != 2 {
		t.Errorf("leaf = %+v, want decoded content and breadcrumbs", leaf)
	}
}

func TestClient_Defaults(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"GET /hospitals/default":           `{"data":{"hospital":{"id":2,"name":"Haukeland"}}}`,
		"GET /hospitals/2/default-project": `{"messageType":"success","data":{"id":7,"title":"Trauma"}}`,
		"GET /hospitals/3/default-project": `{"messageType":"success","data":null}`,
		"GET /hospitals/2":                 `{"messageType":"success","data":{"hospital":{"id":2,"name":"Haukeland","maintenanceMode":true}}}`,
		"GET /hospitals/3":                 `{"id":3,"name":"Ullevål"}`,
	})
	c := NewClient(nil, srv.URL, 5*time.Second)
	ctx := context.Background()

	def, err := c.GetDefaultHospital(ctx)
	if err != nil {
		t.Fatalf("GetDefaultHospital() error = %v", err)
	}
	if def == nil || def.ID != 2 {
		t.Errorf("GetDefaultHospital() = %+v, want hospital 2", def)
	}

	p, err := c.GetDefaultProject(ctx, 2)
	if err != nil {
		t.Fatalf("GetDefaultProject() error = %v", err)
	}
	if p == nil || p.ID != 7 || p.HospitalID != 2 {
		t.Errorf("GetDefaultProject(2) = %+v, want project 7 of hospital 2", p)
	}

	for _, id := range []int64{3, 4} {
		p, err := c.GetDefaultProject(ctx, id)
		if err != nil {
			t.Fatalf("GetDefaultProject(%d) error = %v", id, err)
		}
		if p != nil {
			t.Errorf("GetDefaultProject(%d) = %+v, want nil", id, p)
		}
	}

	wrapped, err := c.GetHospital(ctx, 2)
	if err != nil {
		t.Fatalf("GetHospital(2) error = %v", err)
	}
	if !wrapped.MaintenanceMode {
		t.Errorf("GetHospital(2) = %+v, want maintenance mode", wrapped)
	}
	bare, err := c.GetHospital(ctx, 3)
	if err != nil {
		t.Fatalf("GetHospital(3) error = %v", err)
	}
	if bare.Name != "Ullevål" {
		t.Errorf("GetHospital(3) = %+v, want Ullevål", bare)
	}
}

func TestClient_FetchAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img/xray.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpegdata"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(nil, "http://unused.invalid", 5*time.Second)

	a, err := c.FetchAsset(context.Background(), srv.URL+"/img/xray.jpg")
	if err != nil {
		t.Fatalf("FetchAsset() error = %v", err)
	}
	if string(a.Data) != "jpegdata" || a.ContentType != "image/jpeg" {
		t.Errorf("FetchAsset() = %q %q, want jpegdata image/jpeg", a.Data, a.ContentType)
	}

	_, err = c.FetchAsset(context.Background(), srv.URL+"/img/missing.png")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, guide.ErrNetwork) {
		t.Errorf("FetchAsset() missing error = %v, want ErrNotFound and ErrNetwork", err)
	}
}

func TestClient_Ping(t *testing.T) {
	srv := newTestServer(t, map[string]string{"HEAD /hospitals": ""})
	c := NewClient(nil, srv.URL, 5*time.Second)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	srv.Close()
	if err := c.Ping(context.Background()); !errors.Is(err, guide.ErrNetwork) {
		t.Errorf("Ping() after close error = %v, want ErrNetwork", err)
	}
}

func TestUnwrap(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantNil bool
		wantErr bool
	}{
		{name: "enveloped data", body: `{"data":[1,2]}`, want: `[1,2]`},
		{name: "bare object", body: `{"hospital":{"id":1}}`, want: `{"hospital":{"id":1}}`},
		{name: "bare array", body: ` [1] `, want: `[1]`},
		{name: "success without data", body: `{"messageType":"success"}`, wantNil: true},
		{name: "success with null data", body: `{"messageType":"success","data":null}`, wantNil: true},
		{name: "failure", body: `{"messageType":"failure","data":{}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unwrap([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("unwrap() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("unwrap() = %q, want nil", got)
				}
				return
			}
			if string(got) != tt.want {
				t.Errorf("unwrap() = %q, want %q", got, tt.want)
			}
		})
	}
}
