package venue

import "testing"

func TestClassifyReply(t *testing.T) {
	cases := []struct {
		reply string
		want  Reply
	}{
		{`{"code":"0","msg":"预约成功"}`, ReplyBooked},
		{"操作成功", ReplyBooked},
		{"预约时间冲突，请重新选择", ReplyConflict},
		{"该场地已被预约", ReplyConflict},
		{`{"code":"1","msg":"系统繁忙"}`, ReplyUnknown},
		{"", ReplyUnknown},
	}
	for _, c := range cases {
		if got := ClassifyReply(c.reply); got != c.want {
			t.Fatalf("ClassifyReply(%q) = %v, want %v", c.reply, got, c.want)
		}
	}
}

func TestLooksLikeLoginPage(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"doctype", "<!DOCTYPE html><html><head>login</head>", true},
		{"html tag", "  <HTML><body>sign in</body>", true},
		{"cas redirect", `{"redirect":"https://auth.example/CAS/login"}`, true},
		{"json", `{"datas":{"rows":[]}}`, false},
		{"html past preview", `{"padding":"` + stringOfLen(150) + `"}<html>`, false},
	}
	for _, c := range cases {
		if got := looksLikeLoginPage([]byte(c.body)); got != c.want {
			t.Fatalf("%s: looksLikeLoginPage = %v, want %v", c.name, got, c.want)
		}
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

func TestSplitWindow(t *testing.T) {
	start, end, ok := SplitWindow("19:00-20:00")
	if !ok || start != "19:00" || end != "20:00" {
		t.Fatalf("unexpected split: %q %q %v", start, end, ok)
	}
	for _, bad := range []string{"", "19:00", "-20:00", "19:00-"} {
		if _, _, ok := SplitWindow(bad); ok {
			t.Fatalf("SplitWindow(%q) unexpectedly ok", bad)
		}
	}
}
