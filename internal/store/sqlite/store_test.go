package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"jd_buyer/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开测试库失败：%v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCookiesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadCookies(ctx); !errors.Is(err, ErrNoCookies) {
		t.Fatalf("空库应返回 ErrNoCookies，got %v", err)
	}

	entries := []model.CookieEntry{
		{
			URL: "https://trade.jd.com/",
			Cookies: []model.Cookie{
				{Name: "pt_key", Value: "abc", Domain: ".jd.com", HttpOnly: true},
				{Name: "pt_pin", Value: "user1"},
			},
		},
	}
	if err := s.SaveCookies(ctx, entries); err != nil {
		t.Fatalf("SaveCookies: %v", err)
	}

	got, err := s.LoadCookies(ctx)
	if err != nil {
		t.Fatalf("LoadCookies: %v", err)
	}
	if len(got) != 1 || len(got[0].Cookies) != 2 || got[0].Cookies[0].Value != "abc" {
		t.Fatalf("cookie 读回不符：%+v", got)
	}

	// 覆盖保存
	entries[0].Cookies[0].Value = "def"
	if err := s.SaveCookies(ctx, entries); err != nil {
		t.Fatalf("SaveCookies(覆盖): %v", err)
	}
	got, err = s.LoadCookies(ctx)
	if err != nil {
		t.Fatalf("LoadCookies(覆盖): %v", err)
	}
	if got[0].Cookies[0].Value != "def" {
		t.Fatalf("覆盖保存未生效：%+v", got)
	}

	if err := s.DeleteCookies(ctx); err != nil {
		t.Fatalf("DeleteCookies: %v", err)
	}
	if _, err := s.LoadCookies(ctx); !errors.Is(err, ErrNoCookies) {
		t.Fatalf("删除后应返回 ErrNoCookies，got %v", err)
	}
}

func TestTaskParamsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetTaskParams(ctx); err != nil || ok {
		t.Fatalf("空库应返回 ok=false，got ok=%v err=%v", ok, err)
	}

	saved, err := s.UpsertTaskParams(ctx, model.TaskParams{
		SKUID:  " 100012043978 ",
		AreaID: "1_72_2799",
	})
	if err != nil {
		t.Fatalf("UpsertTaskParams: %v", err)
	}
	if saved.SKUID != "100012043978" {
		t.Fatalf("保存前应规整参数，got %q", saved.SKUID)
	}
	if saved.Count != 1 {
		t.Fatalf("数量应默认为 1，got %d", saved.Count)
	}

	got, ok, err := s.GetTaskParams(ctx)
	if err != nil || !ok {
		t.Fatalf("GetTaskParams: ok=%v err=%v", ok, err)
	}
	if got.SKUID != "100012043978" || got.AreaID != "1_72_2799" {
		t.Fatalf("参数读回不符：%+v", got)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetEmailSettings(ctx); err != nil || ok {
		t.Fatalf("空库应返回 ok=false，got ok=%v err=%v", ok, err)
	}

	if _, err := s.UpsertEmailSettings(ctx, model.EmailSettings{
		Enabled:  true,
		Email:    "user@qq.com",
		AuthCode: "secret",
	}); err != nil {
		t.Fatalf("UpsertEmailSettings: %v", err)
	}
	email, ok, err := s.GetEmailSettings(ctx)
	if err != nil || !ok || !email.Enabled || email.Email != "user@qq.com" {
		t.Fatalf("邮件配置读回不符：%+v ok=%v err=%v", email, ok, err)
	}

	if _, err := s.UpsertPushSettings(ctx, model.PushSettings{
		Enabled: true,
		SendKey: "SCT000",
	}); err != nil {
		t.Fatalf("UpsertPushSettings: %v", err)
	}
	push, ok, err := s.GetPushSettings(ctx)
	if err != nil || !ok || push.SendKey != "SCT000" {
		t.Fatalf("推送配置读回不符：%+v ok=%v err=%v", push, ok, err)
	}
}

func TestOrdersInsertAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertOrder(ctx, model.OrderRecord{SKUID: "100012043978", AreaID: "1_72_2799"})
	if err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}
	if rec.ID == "" || rec.Count != 1 || rec.CreatedAt.IsZero() {
		t.Fatalf("插入应补全缺省字段：%+v", rec)
	}

	if _, err := s.InsertOrder(ctx, model.OrderRecord{SKUID: "200012043978", Count: 2}); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	orders, err := s.ListOrders(ctx)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("应有两条成交记录，got %d", len(orders))
	}
}
