// Package crawlers 提供商品列表页的浏览器抓取功能
//
// # 概述
//
// crawlers包负责把一个分类配置转换为一批商品记录:通过单个浏览器标签页导航、
// 处理挑战页与反爬特征、按分类的遍历策略覆盖全部商品,最后按字段规则抽取记录。
// 持久化与合并不在本包中,见 internal/core。
//
// # 核心组件
//
// ## Navigator (导航状态机)
//
// 每次导航从 Idle 开始,按以下转换运行直至 Settled 或 Exhausted:
//
//	Idle -> Navigating -> ChallengeCheck
//	ChallengeCheck -> ChallengePresent -> Solving -> ChallengeCheck
//	ChallengeCheck -> AntiBotCheck -> Suspicious -> Countermeasure -> Settled
//	AntiBotCheck -> Settled
//	任意失败 -> Backoff -> Navigating (尝试次数未耗尽)
//	任意失败 -> Exhausted (尝试次数耗尽)
//
// 处理过一次仍然存在的挑战页视为本次尝试失败。所有等待都经过 Pacer,
// 测试中可替换为不等待的 Sleeper。
//
//	nav := NewNavigator(DefaultNavigationPolicy(), NewPacer())
//	if err := nav.Navigate(ctx, page, url, stats); err != nil {
//	    // errors.Is(err, models.ErrNavigationExhausted) 或 ctx.Err()
//	}
//
// ## Engine (遍历引擎)
//
// 支持三种遍历策略:
//   - single: 导航一次并抽取
//   - paginated: 逐页导航,遇到空页、无下一页入口或达到页数上限时结束
//   - infinite_scroll: 持续滚动直至页面高度稳定,然后一次性抽取
//
// 中途导航失败时保留已抽取的记录。
//
// ## Extractor (字段抽取)
//
// 基于goquery按 FieldSpec 逐条目抽取,单个条目出错只丢弃该条目。
// 价格解析、分页地址、下一页入口和 custom 字段由 SourceStrategy 按站点提供。
//
// ## Browser / rodPage
//
// 基于go-rod与go-rod/stealth的浏览器会话,rodPage 实现 ControlledPage 接口。
//
// ## Prober / ResourceMonitor
//
// Prober 使用Colly做不启动浏览器的静态探测,判断分类页是否返回挑战页。
// ResourceMonitor 使用gopsutil在启动浏览器前检查可用内存与CPU负载。
//
// # 线程安全
//
// 一个 Navigator/Engine 只服务一个标签页,整个运行期间顺序使用。
// Pacer 的随机源与 ResourceMonitor 的采样结果加锁保护。
package crawlers
