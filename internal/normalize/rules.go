package normalize

// Rule is one literal rewrite: every occurrence of From becomes To.
type Rule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Rules is the full rewrite configuration used by a Normalizer.
type Rules struct {
	// Digits rewrites spelled numerals and symbol variants.
	Digits []Rule
	// Aliases collapses regional aliases, sub-brand suffixes and noise words.
	Aliases []Rule
	// Guards skip the Aliases table when the name contains any of them.
	Guards []string
	// Exact rewrites a whole result that equals From.
	Exact []Rule
	// Collapse removes doubled prefixes left behind by earlier steps.
	Collapse []Rule
}

// DefaultRules returns the canonical table set.
func DefaultRules() Rules {
	return Rules{
		Digits: []Rule{
			{"十七", "17"}, {"十六", "16"}, {"十五", "15"}, {"十四", "14"},
			{"十三", "13"}, {"十二", "12"}, {"十一", "11"}, {"十", "10"},
			{"一", "1"}, {"二", "2"}, {"三", "3"}, {"四", "4"}, {"五", "5"},
			{"六", "6"}, {"七", "7"}, {"八", "8"}, {"九", "9"},
			{"＋", "+"}, {"—", ""},
		},
		Aliases: []Rule{
			{"上海东方卫视", "东方卫视"},
			{"上海卫视", "东方卫视"},
			{"中央", "CCTV"},
			{"央视", "CCTV"},
			{"CCTV5+体育赛事", "CCTV5+"},
			{"CCTV5赛事", "CCTV5+"},
			{"CCTV5+体育", "CCTV5+"},
			{"CCTV1综合", "CCTV1"},
			{"CCTV2财经", "CCTV2"},
			{"CCTV3综艺", "CCTV3"},
			{"CCTV4中文国际", "CCTV4"},
			{"CCTV4国际", "CCTV4"},
			{"CCTV5体育", "CCTV5"},
			{"CCTV6电影", "CCTV6"},
			{"CCTV7军事农业", "CCTV7"},
			{"CCTV7国防军事", "CCTV7"},
			{"CCTV7军农", "CCTV7"},
			{"CCTV7军事", "CCTV7"},
			{"CCTV17农业农村", "CCTV17"},
			{"CCTV17军农", "CCTV17"},
			{"CCTV17农业", "CCTV17"},
			{"CCTV8电视剧", "CCTV8"},
			{"CCTV9纪录", "CCTV9"},
			{"CCTV10科教", "CCTV10"},
			{"CCTV11戏曲", "CCTV11"},
			{"CCTV12社会与法", "CCTV12"},
			{"CCTV13新闻", "CCTV13"},
			{"CCTV新闻", "CCTV13"},
			{"CCTV14少儿", "CCTV14"},
			{"CCTV少儿", "CCTV14"},
			{"CCTV15音乐", "CCTV15"},
			{"CCTV音乐", "CCTV15"},
			{"金鹰卡通卫视", "金鹰卡通"},
			{"3沙卫视", "三沙卫视"},
			{"4川卫视", "四川卫视"},
			{"广东大湾区卫视", "大湾区卫视"},
			{"内蒙古卫视", "内蒙卫视"},
			{"家庭电影", "家庭影院"},
			{"PLUS", "+"},
			{"高清", ""},
			{"超高", ""},
			{"超清", ""},
			{"HD", ""},
			{"标清", ""},
			{"频道", ""},
			{"台", ""},
			{"套", ""},
			{"第1", "1"},
			{"CCTVCCTV", "CCTV"},
			{"CHCCHC", "CHC"},
			{"移动", ""},
		},
		Guards: []string{"高清电影"},
		Exact: []Rule{
			{"家庭影院", "CHC家庭影院"},
			{"动作电影", "CHC动作电影"},
		},
		Collapse: []Rule{
			{"CCTVCCTV", "CCTV"},
			{"CHCCHC", "CHC"},
		},
	}
}

// AlternateRules is the older variant of the table: no 高清电影 guard, and the
// CHC movie brands are aliased inside the table instead of by exact fixup.
// Kept so tests can compare both behaviours on real channel names.
func AlternateRules() Rules {
	r := DefaultRules()
	r.Guards = nil
	r.Aliases = append(r.Aliases,
		Rule{"家庭影院", "CHC家庭影院"},
		Rule{"动作电影", "CHC动作电影"},
		Rule{"高清电影", "CHC高清电影"},
	)
	return r
}

// WithAliases returns a copy of r with extra alias rules appended.
func (r Rules) WithAliases(extra []Rule) Rules {
	out := r
	out.Aliases = append(append([]Rule(nil), r.Aliases...), extra...)
	return out
}
