package testutil

import (
	"context"
	"fmt"
	"sync"

	"boneguide-go/internal/guide"
)

// FakeAPI is a scriptable in-memory guide.ContentAPI. Errors can be injected
// per method ("GetCurrentVersion") or per method and hospital
// ("GetCurrentVersion/3"). Safe for concurrent use.
type FakeAPI struct {
	mu              sync.Mutex
	hospitals       []guide.Hospital
	defaultHospital *guide.Hospital
	defaultProjects map[int64]*guide.DefaultProject
	trees           map[int64]*guide.HospitalTree
	versions        map[int64]*guide.RemoteVersion
	assets          map[string]*guide.Asset
	errs            map[string]error
	offline         bool
	calls           map[string]int
	treeHook        func(hospitalID int64)
}

func NewFakeAPI() *FakeAPI {
	return &FakeAPI{
		defaultProjects: make(map[int64]*guide.DefaultProject),
		trees:           make(map[int64]*guide.HospitalTree),
		versions:        make(map[int64]*guide.RemoteVersion),
		assets:          make(map[string]*guide.Asset),
		errs:            make(map[string]error),
		calls:           make(map[string]int),
	}
}

// SetHospitals replaces the hospital list. The first hospital becomes the
// default unless SetDefaultHospital says otherwise.
func (f *FakeAPI) SetHospitals(hs ...guide.Hospital) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hospitals = hs
	if f.defaultHospital == nil && len(hs) > 0 {
		h := hs[0]
		f.defaultHospital = &h
	}
}

func (f *FakeAPI) SetDefaultHospital(h guide.Hospital) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultHospital = &h
}

func (f *FakeAPI) SetDefaultProject(p guide.DefaultProject) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultProjects[p.HospitalID] = &p
}

// SetTree sets the hospital's content tree.
func (f *FakeAPI) SetTree(hospitalID int64, tree *guide.HospitalTree) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees[hospitalID] = tree
}

// SetVersion sets the hospital's current remote version.
func (f *FakeAPI) SetVersion(hospitalID int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[hospitalID] = &guide.RemoteVersion{ID: hospitalID*1000 + int64(len(name)), Name: name}
}

// SetAsset makes url downloadable.
func (f *FakeAPI) SetAsset(url string, data []byte, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[url] = &guide.Asset{Data: data, ContentType: contentType}
}

// SetError makes calls matching key fail with err. A nil err clears it.
func (f *FakeAPI) SetError(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, key)
		return
	}
	f.errs[key] = err
}

// SetOffline makes every call fail with a network error.
func (f *FakeAPI) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// OnTree registers a hook run inside GetHospitalTree, before it returns.
func (f *FakeAPI) OnTree(hook func(hospitalID int64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.treeHook = hook
}

// Calls returns how many times method was called.
func (f *FakeAPI) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// begin records the call and returns the injected failure, if any.
// Callers must hold f.mu.
func (f *FakeAPI) begin(ctx context.Context, method string, id int64) error {
	f.calls[method]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.offline {
		return guide.NetworkError(method, fmt.Errorf("remote unreachable"))
	}
	if err, ok := f.errs[fmt.Sprintf("%s/%d", method, id)]; ok {
		return err
	}
	if err, ok := f.errs[method]; ok {
		return err
	}
	return nil
}

func (f *FakeAPI) ListHospitals(ctx context.Context) ([]guide.Hospital, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "ListHospitals", 0); err != nil {
		return nil, err
	}
	return append([]guide.Hospital(nil), f.hospitals...), nil
}

func (f *FakeAPI) GetDefaultHospital(ctx context.Context) (*guide.Hospital, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "GetDefaultHospital", 0); err != nil {
		return nil, err
	}
	if f.defaultHospital == nil {
		return nil, nil
	}
	h := *f.defaultHospital
	return &h, nil
}

func (f *FakeAPI) GetHospital(ctx context.Context, id int64) (*guide.Hospital, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "GetHospital", id); err != nil {
		return nil, err
	}
	for _, h := range f.hospitals {
		if h.ID == id {
			return &h, nil
		}
	}
	return nil, guide.NetworkError("GetHospital", fmt.Errorf("hospital %d not found", id))
}

func (f *FakeAPI) GetDefaultProject(ctx context.Context, hospitalID int64) (*guide.DefaultProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "GetDefaultProject", hospitalID); err != nil {
		return nil, err
	}
	p, ok := f.defaultProjects[hospitalID]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (f *FakeAPI) GetHospitalTree(ctx context.Context, hospitalID int64) (*guide.HospitalTree, error) {
	f.mu.Lock()
	if err := f.begin(ctx, "GetHospitalTree", hospitalID); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	tree, ok := f.trees[hospitalID]
	hook := f.treeHook
	f.mu.Unlock()

	if hook != nil {
		hook(hospitalID)
	}
	if !ok {
		return nil, guide.NetworkError("GetHospitalTree", fmt.Errorf("hospital %d not found", hospitalID))
	}
	return tree, nil
}

func (f *FakeAPI) GetCurrentVersion(ctx context.Context, hospitalID int64) (*guide.RemoteVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "GetCurrentVersion", hospitalID); err != nil {
		return nil, err
	}
	v, ok := f.versions[hospitalID]
	if !ok {
		return nil, guide.ParseError("GetCurrentVersion", fmt.Errorf("hospital %d has no current version", hospitalID))
	}
	out := *v
	return &out, nil
}

func (f *FakeAPI) FetchAsset(ctx context.Context, url string) (*guide.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["FetchAsset"]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.offline {
		return nil, guide.NetworkError("FetchAsset", fmt.Errorf("remote unreachable"))
	}
	if err, ok := f.errs["FetchAsset/"+url]; ok {
		return nil, err
	}
	a, ok := f.assets[url]
	if !ok {
		return nil, guide.NetworkError("FetchAsset", fmt.Errorf("%s not found", url))
	}
	return &guide.Asset{Data: append([]byte(nil), a.Data...), ContentType: a.ContentType}, nil
}

func (f *FakeAPI) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begin(ctx, "Ping", 0)
}

// Compile-time check that FakeAPI implements guide.ContentAPI.
var _ guide.ContentAPI = (*FakeAPI)(nil)
