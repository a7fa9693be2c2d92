// Package providers imports all DNS provider packages to trigger their init() registration.
package providers

import (
	_ "github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns/aliyun"
	_ "github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns/cloudflare"
	_ "github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns/opnsense"
	_ "github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns/tencent"
)
